package main

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/withObsrvr/mmu-to-hats/internal/catalog"
	"github.com/withObsrvr/mmu-to-hats/internal/schema"
)

func runCatalogs(stdout, stderr io.Writer) int {
	names := catalog.Names()
	if len(names) == 0 {
		fmt.Fprintln(stderr, "mmu-hats: no catalogs registered")
		return exitUsage
	}
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return exitOK
}

func runSchema(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(stderr)
	arrowOut := fs.Bool("arrow", false, "print the Arrow schema instead of the declaration")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: mmu-hats schema [-arrow] <catalog>")
		return exitUsage
	}

	conv, err := catalog.Lookup(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	s := conv.DeclareSchema()
	if *arrowOut {
		fmt.Fprintln(stdout, s.Arrow())
		return exitOK
	}

	fmt.Fprintf(stdout, "catalog %s, declaration %s, hash %s\n", s.Catalog, s.Version, s.Hash())
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tNULLABLE\tGROUP\tSOURCE")
	writeColumns(tw, "", s.Columns)
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	return exitOK
}

func writeColumns(w io.Writer, prefix string, cols []schema.Column) {
	for _, c := range cols {
		name := prefix + c.Name
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", name, c.Type, c.Nullable, c.Group, c.Source)
		switch t := c.Type.(type) {
		case schema.Struct:
			writeColumns(w, name+".", t.Fields)
		case schema.StructList:
			writeColumns(w, name+".", t.Fields)
		}
	}
}
