package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"github.com/exrcache/exrcache/internal/cache"
	"github.com/exrcache/exrcache/internal/hybrid"
	"github.com/exrcache/exrcache/pkg/utils"
)

var errPathRequired = errors.New("at least one file is required")

func inspectCmd() *Command {
	var iof ioFlags
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	addIOFlags(fs, &iof)

	return &Command{
		Flags: fs,
		Usage: "inspect [flags] <file>...",
		Short: "Show parts, channels and windows of EXR files",
		Long: "Print every part's type, compression and windows, the channels the\n" +
			"hybrid reader exposes and the scanline block size used to decode them.",
		Exec: func(_ context.Context, e *env, args []string) error {
			iof.apply(fs, e.cfg)
			return execInspect(e, args)
		},
	}
}

func execInspect(e *env, args []string) error {
	if len(args) == 0 {
		return errPathRequired
	}

	for i, path := range args {
		if i > 0 {
			fmt.Fprintln(e.out)
		}
		f, err := openImage(e.cfg, e.logger, path)
		if err != nil {
			return err
		}
		printImage(e, f)
		_ = f.Close()
	}
	return nil
}

func printImage(e *env, f *openFile) {
	r := f.reader
	fmt.Fprintf(e.out, "%s\n", f.stream.Path())
	fmt.Fprintf(e.out, "  size:            %s\n", utils.FormatBytes(f.stream.Size()))
	fmt.Fprintf(e.out, "  modified:        %s\n", f.stream.ModTime().Time().Format("2006-01-02 15:04:05.000000000"))
	fmt.Fprintf(e.out, "  complete:        %t\n", r.IsComplete())
	fmt.Fprintf(e.out, "  data window:     %s (%dx%d)\n", r.DataWindow(), r.DataWindow().Width(), r.DataWindow().Height())
	fmt.Fprintf(e.out, "  display window:  %s\n", r.DisplayWindow())
	fmt.Fprintf(e.out, "  block size:      %d rows\n",
		cache.ScanlineBlockSize(r.Header(0), r.DataWindow(), r.DisplayWindow(), e.cfg.Threads()))

	fmt.Fprintf(e.out, "  parts:           %d\n", r.Parts())
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "    #\tname\ttype\tcompression\tdata window\tchannels")
	for i := 0; i < r.Parts(); i++ {
		h := r.Header(i)
		fmt.Fprintf(tw, "    %d\t%s\t%s\t%s\t%s\t%d\n", i, orDash(h.Name), h.Type, h.Compression, h.DataWindow, len(h.Channels))
	}
	_ = tw.Flush()

	fmt.Fprintf(e.out, "  channels:        %d\n", len(r.Channels()))
	tw = tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "    name\ttype\tsampling\tpart\tsource")
	for _, c := range r.Channels() {
		b := r.Resolve(c.Name)
		part, source := "-", "-"
		if b.Kind == hybrid.Bound {
			part, source = fmt.Sprint(b.Part), b.Name
		}
		fmt.Fprintf(tw, "    %s\t%s\t%dx%d\t%s\t%s\n", c.Name, c.Type, c.XSampling, c.YSampling, part, source)
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
