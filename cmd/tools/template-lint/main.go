package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"policy-orchestrator/pkg/registry"
)

type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	var paths pathList
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Var(&paths, "path", "Template file or directory (repeatable, default configs/rating-templates)")

	switch command {
	case "validate":
		if err := fs.Parse(args); err != nil {
			return err
		}
		return validate(defaultPaths(paths), out)

	case "list":
		if err := fs.Parse(args); err != nil {
			return err
		}
		return list(defaultPaths(paths), out)

	case "lookup":
		source := fs.String("source", "", "Partner source")
		class := fs.String("classification", "", "Risk classification")
		jurisdiction := fs.String("jurisdiction", "", "Jurisdiction code")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *source == "" {
			fs.Usage()
			return errors.New("source is required for lookup")
		}
		return lookup(defaultPaths(paths), *source, *class, *jurisdiction, out)

	case "help":
		help(out)
		return nil

	default:
		help(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func defaultPaths(p pathList) []string {
	if len(p) == 0 {
		return []string{"configs/rating-templates"}
	}
	return p
}

func validate(paths []string, out io.Writer) error {
	reg, problems, err := registry.Scan(paths...)
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintln(out, p.String())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s) in rating templates", len(problems))
	}
	if reg.Len() == 0 {
		return fmt.Errorf("no templates found under %s", strings.Join(paths, ", "))
	}
	fmt.Fprintf(out, "Template validation passed. Found %d templates.\n", reg.Len())
	return nil
}

func list(paths []string, out io.Writer) error {
	reg, err := registry.Load(paths...)
	if err != nil {
		return err
	}
	for _, t := range reg.Templates() {
		fmt.Fprintf(out, "%-28s v%-3d %-32s %2d fields  %s\n", t.ID, t.Version, t.Key(), len(t.Fields), t.File)
	}
	return nil
}

func lookup(paths []string, source, class, jurisdiction string, out io.Writer) error {
	reg, err := registry.Load(paths...)
	if err != nil {
		return err
	}
	t, level, err := reg.Lookup(source, class, jurisdiction)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s) matched at %s level\n", t.ID, t.File, level)
	return nil
}

func help(out io.Writer) {
	fmt.Fprintln(out, `
Usage: template-lint <command> [flags]

Commands:
  validate  Load every template and report problems
  list      Print the loaded templates and their applicability keys
  lookup    Show which template a transaction would be rated with
  help      Show this help message

Examples:
  template-lint validate -path configs/rating-templates
  template-lint list
  template-lint lookup -source acme -classification HOME_HEALTH -jurisdiction TX

Use 'template-lint <command> -h' for more information about a command.`)
}
