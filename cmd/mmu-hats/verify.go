package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/withObsrvr/mmu-to-hats/internal/catalog"
	"github.com/withObsrvr/mmu-to-hats/internal/config"
	"github.com/withObsrvr/mmu-to-hats/internal/metadata"
	"github.com/withObsrvr/mmu-to-hats/internal/metrics"
	"github.com/withObsrvr/mmu-to-hats/internal/storage"
	"github.com/withObsrvr/mmu-to-hats/internal/tables"
	"github.com/withObsrvr/mmu-to-hats/internal/verify"
)

// listFlag collects a comma separated list, repeatable.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

func runVerify(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML verification config")
	name := fs.String("catalog", "", "start from this catalog's verification profile")
	sortBy := fs.String("sort-by", "", "sort both tables by this identifier column first")
	atol := fs.Float64("tolerance", verify.DefaultAbsolute, "absolute float tolerance")
	rtol := fs.Float64("rtol", verify.DefaultRelative, "relative float tolerance")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	parquetOut := fs.String("parquet", "", "also write the mismatches to this parquet file")
	var ignore, forbid, allow listFlag
	fs.Var(&ignore, "ignore", "columns allowed to be missing (comma separated)")
	fs.Var(&forbid, "forbid", "columns that must not appear (comma separated)")
	fs.Var(&allow, "allow", "columns whose value mismatches do not fail (comma separated)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "usage: mmu-hats verify [flags] <reference> <candidate>")
		return exitUsage
	}
	refLoc, candLoc := fs.Arg(0), fs.Arg(1)

	vcfg := verify.DefaultConfig()
	if *name != "" {
		p, err := catalog.Profile(*name)
		if err != nil {
			fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
			return exitUsage
		}
		vcfg = p
	}
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
			return exitUsage
		}
		vcfg, err = verify.LoadConfigOver(vcfg, f)
		f.Close()
		if err != nil {
			fmt.Fprintf(stderr, "mmu-hats: %s: %v\n", *configPath, err)
			return exitUsage
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "tolerance":
			vcfg.Tolerance.Absolute = *atol
		case "rtol":
			vcfg.Tolerance.Relative = *rtol
		}
	})
	vcfg.IgnoreMissingColumns = append(vcfg.IgnoreMissingColumns, ignore...)
	vcfg.ForbiddenColumns = append(vcfg.ForbiddenColumns, forbid...)
	vcfg.AllowedMismatchColumns = append(vcfg.AllowedMismatchColumns, allow...)
	if err := vcfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	if *name != "" {
		conv, err := catalog.Lookup(*name)
		if err != nil {
			fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
			return exitUsage
		}
		if err := vcfg.CheckForbidden(conv.DeclareSchema()); err != nil {
			fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
			return exitUsage
		}
	}

	mem := memory.NewGoAllocator()
	ref, err := readTable(ctx, mem, refLoc, *sortBy)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: reference: %v\n", err)
		return exitUsage
	}
	defer ref.Release()
	cand, err := readTable(ctx, mem, candLoc, *sortBy)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: candidate: %v\n", err)
		return exitUsage
	}
	defer cand.Release()

	rep, err := verify.Compare(ref, cand, vcfg)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	rep.Reference, rep.Candidate = refLoc, candLoc
	passed := rep.Passed()

	if *jsonOut {
		err = rep.WriteJSON(stdout)
	} else {
		_, err = io.WriteString(stdout, rep.String())
	}
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: write report: %v\n", err)
		return exitUsage
	}
	if *parquetOut != "" {
		if err := writeReportParquet(*parquetOut, rep); err != nil {
			fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
			return exitUsage
		}
	}

	recordVerification(ctx, cfg, *name, rep, passed)
	if !passed {
		return exitFail
	}
	return exitOK
}

// readTable loads a parquet table and optionally sorts it.
func readTable(ctx context.Context, mem memory.Allocator, location, sortBy string) (arrow.Record, error) {
	data, err := storage.ReadObject(ctx, location)
	if err != nil {
		return nil, err
	}
	rec, err := tables.DecodeParquet(ctx, data, mem)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	if sortBy == "" {
		return rec, nil
	}
	defer rec.Release()
	return verify.SortByColumn(mem, rec, sortBy)
}

func writeReportParquet(path string, rep *verify.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := rep.WriteParquet(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// recordVerification publishes the verdict to metrics and the metadata
// catalog. Failures here never change the exit status.
func recordVerification(ctx context.Context, cfg config.Config, catalogName string, rep *verify.Report, passed bool) {
	failures := len(rep.Failures())
	if m := metrics.Get(); m != nil {
		m.ObserveVerification(catalogName, passed)
		for _, mm := range rep.Mismatches {
			m.AddMismatches(catalogName, string(mm.Kind), mm.Allowed, float64(mm.Count))
		}
	}
	if cfg.Catalog.PostgresDSN == "" {
		return
	}
	w, err := metadata.NewWriter(metadata.CatalogConfig{
		PostgresDSN: cfg.Catalog.PostgresDSN,
		Namespace:   cfg.Catalog.Namespace,
	})
	if err != nil {
		log.Printf("[metadata] verification not recorded: %v", err)
		return
	}
	defer w.Close()
	summary := "pass"
	if !passed {
		summary = fmt.Sprintf("fail: %d failing mismatches", failures)
	}
	err = w.RecordVerification(ctx, metadata.VerificationRecord{
		Namespace:     cfg.Catalog.Namespace,
		Catalog:       catalogName,
		Reference:     rep.Reference,
		Candidate:     rep.Candidate,
		Passed:        passed,
		ReferenceRows: rep.RowsReference,
		CandidateRows: rep.RowsCandidate,
		Mismatches:    len(rep.Mismatches),
		Failures:      failures,
		Summary:       summary,
	})
	if err != nil {
		log.Printf("[metadata] record verification: %v", err)
	}
}

func runConform(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("conform", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("catalog", "", "catalog whose declaration the table must match")
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *name == "" || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: mmu-hats conform -catalog <name> <table>")
		return exitUsage
	}
	conv, err := catalog.Lookup(*name)
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}

	rec, err := readTable(ctx, memory.NewGoAllocator(), fs.Arg(0), "")
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: %v\n", err)
		return exitUsage
	}
	defer rec.Release()

	rep := verify.Conform(conv.DeclareSchema(), rec)
	rep.Candidate = fs.Arg(0)
	if *jsonOut {
		err = rep.WriteJSON(stdout)
	} else {
		_, err = io.WriteString(stdout, rep.String())
	}
	if err != nil {
		fmt.Fprintf(stderr, "mmu-hats: write report: %v\n", err)
		return exitUsage
	}
	if !rep.Passed() {
		return exitFail
	}
	return exitOK
}
