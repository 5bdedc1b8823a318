// Command catalog inspects and edits a catalog directory.
//
//	catalog [-config file] [-dir d] put k v | get k | load file.tsv | finish | compact | dump | stats
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dd0wney/cluso-catalog/pkg/catalog"
	"github.com/dd0wney/cluso-catalog/pkg/config"
	"github.com/dd0wney/cluso-catalog/pkg/logging"
	"github.com/dd0wney/cluso-catalog/pkg/metrics"
)

var errUsage = errors.New("usage: catalog [-config file] [-dir d] put k v | get k | load file.tsv | finish | compact | dump | stats")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configFile = fs.String("config", "", "YAML configuration file")
		dir        = fs.String("dir", "", "Catalog directory (overrides the config file)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configFile, config.WithDir(*dir))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewJSONLogger(stderr, cfg.Level())
	reg := metrics.NewRegistry()

	c, err := catalog.Open(cfg.Dir, cfg.Options(logger, reg))
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Dir, err)
	}

	cmdErr := dispatch(c, cfg, fs.Args(), stdout)
	if err := c.Close(); err != nil && cmdErr == nil {
		cmdErr = fmt.Errorf("close: %w", err)
	}

	if cfg.MetricsFile != "" {
		if err := reg.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("writing metrics file failed", logging.Path(cfg.MetricsFile), logging.Error(err))
		}
	}
	return cmdErr
}

func dispatch(c *catalog.Catalog, cfg config.Config, args []string, stdout io.Writer) error {
	switch cmd, rest := args[0], args[1:]; {
	case cmd == "put" && len(rest) == 2:
		if err := c.Insert(rest[0], rest[1]); err != nil {
			return err
		}
		return c.Finish()

	case cmd == "get" && len(rest) == 1:
		value, found, err := c.Get(rest[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not found", rest[0])
		}
		fmt.Fprintln(stdout, value)
		return nil

	case cmd == "load" && len(rest) == 1:
		n, err := load(c, rest[0], cfg.QueueSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "loaded %d entries\n", n)
		return nil

	case cmd == "finish" && len(rest) == 0:
		return c.Finish()

	case cmd == "compact" && len(rest) == 0:
		before := c.Stats().ValueBytes
		if err := c.Compact(); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "value store %d -> %d bytes\n", before, c.Stats().ValueBytes)
		return nil

	case cmd == "dump" && len(rest) == 0:
		for e, err := range c.All() {
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s\t%s\n", e.Key, e.Value)
		}
		return nil

	case cmd == "stats" && len(rest) == 0:
		printStats(stdout, c)
		return nil
	}

	return errUsage
}

// load inserts every key<TAB>value line of path through a deferred writer
func load(c *catalog.Catalog, path string, queueSize int) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	ctx := context.Background()
	w := catalog.NewDeferredWriter(c, queueSize)

	n := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "\t")
		if !ok {
			_ = w.Close(ctx)
			return n, fmt.Errorf("%s:%d: missing tab separator", path, line)
		}
		if err := w.Insert(ctx, key, value); err != nil {
			_ = w.Close(ctx)
			return n, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		_ = w.Close(ctx)
		return n, err
	}
	return n, w.Close(ctx)
}

func printStats(w io.Writer, c *catalog.Catalog) {
	s := c.Stats()
	layout := c.Layout()

	fmt.Fprintf(w, "id:             %s\n", s.ID)
	fmt.Fprintf(w, "generation:     %d\n", s.Generation)
	fmt.Fprintf(w, "stride:         %d\n", layout.Stride)
	fmt.Fprintf(w, "key order:      %s\n", layout.Order)
	fmt.Fprintf(w, "index records:  %d\n", s.IndexRecords)
	fmt.Fprintf(w, "buffered keys:  %d\n", s.BufferEntries)
	fmt.Fprintf(w, "value bytes:    %d\n", s.ValueBytes)
	fmt.Fprintf(w, "compressed:     %t\n", s.Compressed)
}
