// Package cli is the small flag parser behind the aslc commands. Besides
// ordinary long and short flags it understands prefix flags such as
// -Iinclude and paired group flags such as -Wshadow / -Wno-shadow.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer value '%s'", s)
	}
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type boolValue struct{ p *bool }

// Set treats an empty string as a bare -flag.
func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (fl *Flag) isBool() bool {
	_, ok := fl.Value.(*boolValue)
	return ok
}

// FlagGroupEntry is one member of a flag group. Enabled and Disabled are
// set by -<Prefix><Name> and -<Prefix>no-<Name>; Default is only shown in
// the help page.
type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
	Default  bool
}

type FlagGroup struct {
	Name        string
	Description string
	GroupType   string
	Header      string
	Flags       []FlagGroupEntry
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	prefixes   map[string]*Flag
	grouped    map[string]bool
	groups     []FlagGroup
	args       []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:       name,
		flags:      make(map[string]*Flag),
		shorthands: make(map[string]*Flag),
		prefixes:   make(map[string]*Flag),
		grouped:    make(map[string]bool),
	}
}

// Args returns the positional arguments left after Parse.
func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), "n")
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, "", expectedType)
}

// Prefix registers a list flag whose value is glued to a single dash
// prefix, as in -Ishaders or -DFOG=1.
func (f *FlagSet) Prefix(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(&listValue{p}, prefix, "", usage, "", expectedType)
	f.prefixes[prefix] = f.flags[prefix]
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	fl := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = fl
	if shorthand == "" {
		return
	}
	if _, ok := f.shorthands[shorthand]; ok {
		panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
	}
	f.shorthands[shorthand] = fl
}

// AddFlagGroup defines the paired flags of every entry and records the
// group for the help page.
func (f *FlagSet) AddFlagGroup(name, description, groupType, header string, entries []FlagGroupEntry) {
	for _, e := range entries {
		if e.Enabled != nil {
			f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage)
			f.grouped[e.Prefix+e.Name] = true
		}
		if e.Disabled != nil {
			f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'")
			f.grouped[e.Prefix+"no-"+e.Name] = true
		}
	}
	f.groups = append(f.groups, FlagGroup{Name: name, Description: description, GroupType: groupType, Header: header, Flags: entries})
}

func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		}

		long := strings.HasPrefix(arg, "--")
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			return fmt.Errorf("empty flag name in '%s'", arg)
		}
		fl, ok := f.flags[name]
		if !ok && !long {
			fl, value, hasValue, ok = f.matchShort(arg)
		}
		if !ok {
			return fmt.Errorf("unknown flag: %s", arg)
		}

		if !hasValue && !fl.isBool() {
			if i+1 >= len(arguments) {
				return fmt.Errorf("flag needs an argument: %s", arg)
			}
			i++
			value = arguments[i]
		}
		if err := fl.Value.Set(value); err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
	}
	return nil
}

// matchShort resolves a single dash argument that is not a full flag name:
// first against the prefix flags, then as a shorthand with an optional
// glued value (-ofoo).
func (f *FlagSet) matchShort(arg string) (*Flag, string, bool, bool) {
	body := arg[1:]
	prefixes := make([]string, 0, len(f.prefixes))
	for p := range f.prefixes {
		prefixes = append(prefixes, p)
	}
	// Longest prefix wins.
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(body, p) && len(body) > len(p) {
			return f.prefixes[p], body[len(p):], true, true
		}
	}

	fl, ok := f.shorthands[body[:1]]
	if !ok {
		return nil, "", false, false
	}
	if rest := body[1:]; rest != "" && !fl.isBool() {
		return fl, strings.TrimPrefix(rest, "="), true, true
	}
	return fl, "", false, true
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error

	Stdout io.Writer
	Stderr io.Writer
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name), Stdout: os.Stdout, Stderr: os.Stderr}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(a.Stderr, err)
		fmt.Fprintf(a.Stderr, "Usage: %s %s\nRun '%s --help' for all available options and flags.\n", a.Name, a.Synopsis, a.Name)
		return err
	}
	if help {
		io.WriteString(a.Stdout, a.HelpPage(terminalWidth()))
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

// HelpPage renders the full help text wrapped to width columns.
func (a *App) HelpPage(width int) string {
	var sb strings.Builder
	section := func(title string) { fmt.Fprintf(&sb, "\n  %s\n", title) }

	if len(a.Authors) > 0 {
		fmt.Fprintf(&sb, "\n  Copyright (c) %s and contributors\n", strings.Join(a.Authors, ", "))
	}
	if a.Repository != "" {
		fmt.Fprintf(&sb, "  For more details refer to %s\n", a.Repository)
	}
	if a.Synopsis != "" {
		section("Synopsis")
		fmt.Fprintf(&sb, "    %s %s\n", a.Name, a.Synopsis)
	}
	if a.Description != "" {
		section("Description")
		for _, line := range wrapText(a.Description, width-4) {
			fmt.Fprintf(&sb, "    %s\n", line)
		}
	}

	var options []*Flag
	for name, fl := range a.FlagSet.flags {
		if _, isPrefix := a.FlagSet.prefixes[name]; isPrefix {
			options = append(options, fl)
			continue
		}
		if !a.FlagSet.grouped[name] {
			options = append(options, fl)
		}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Name < options[j].Name })

	left := 0
	for _, fl := range options {
		left = max(left, len(flagString(fl, a.FlagSet.prefixes)))
	}
	for _, g := range a.FlagSet.groups {
		left = max(left, len(groupPattern(g, true)))
		for _, e := range g.Flags {
			left = max(left, len(e.Name))
		}
	}

	if len(options) > 0 {
		section("Options")
		for _, fl := range options {
			right := ""
			if !fl.isBool() && fl.DefValue != "" {
				right = "|" + fl.DefValue + "|"
			}
			writeEntry(&sb, width, left, flagString(fl, a.FlagSet.prefixes), fl.Usage, right)
		}
	}

	groups := append([]FlagGroup(nil), a.FlagSet.groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		section(g.Name)
		writeEntry(&sb, width, left, groupPattern(g, false), "Enable a specific "+g.GroupType, "")
		writeEntry(&sb, width, left, groupPattern(g, true), "Disable a specific "+g.GroupType, "")
		if g.Header != "" {
			fmt.Fprintf(&sb, "  %s\n", g.Header)
		}
		entries := append([]FlagGroupEntry(nil), g.Flags...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			mark := "|-|"
			if e.Default {
				mark = "|x|"
			}
			writeEntry(&sb, width, left, e.Name, e.Usage, mark)
		}
	}
	return sb.String()
}

func groupPattern(g FlagGroup, negated bool) string {
	prefix := ""
	if len(g.Flags) > 0 {
		prefix = g.Flags[0].Prefix
	}
	if negated {
		return fmt.Sprintf("-%sno-<%s>", prefix, g.GroupType)
	}
	return fmt.Sprintf("-%s<%s>", prefix, g.GroupType)
}

func flagString(fl *Flag, prefixes map[string]*Flag) string {
	if _, ok := prefixes[fl.Name]; ok {
		return fmt.Sprintf("-%s<%s>", fl.Name, fl.ExpectedType)
	}
	arg := ""
	if !fl.isBool() && fl.ExpectedType != "" {
		arg = " <" + fl.ExpectedType + ">"
	}
	if fl.Shorthand != "" {
		return fmt.Sprintf("-%s%s, --%s%s", fl.Shorthand, arg, fl.Name, arg)
	}
	return "--" + fl.Name + arg
}

// writeEntry prints "left usage right" with the usage wrapped and aligned
// after a left column of leftWidth characters.
func writeEntry(sb *strings.Builder, width, leftWidth int, left, usage, right string) {
	usageWidth := max(width-4-leftWidth-1-len(right)-2, 10)
	lines := wrapText(usage, usageWidth)
	if len(lines) == 0 {
		lines = []string{""}
	}
	if right != "" {
		fmt.Fprintf(sb, "    %-*s %-*s  %s\n", leftWidth, left, usageWidth, lines[0], right)
	} else {
		fmt.Fprintf(sb, "    %-*s %s\n", leftWidth, left, lines[0])
	}
	pad := strings.Repeat(" ", 4+leftWidth+1)
	for _, l := range lines[1:] {
		fmt.Fprintf(sb, "%s%s\n", pad, l)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return max(width, 20)
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxWidth <= 0 {
		return []string{strings.Join(words, " ")}
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > maxWidth {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}
