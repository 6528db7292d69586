package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/beamstep/internal/logger"
	"github.com/samcharles93/beamstep/internal/translate"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func translateCmd() *cli.Command {
	var (
		srcPath    string
		outPath    string
		format     string
		noProgress bool
	)

	return &cli.Command{
		Name:  "translate",
		Usage: "Translate a file of sentences, one per line",
		Flags: append(append(modelFlags(), searchFlags()...),
			&cli.StringFlag{
				Name:        "src",
				Aliases:     []string{"i"},
				Usage:       "source file (- for stdin)",
				Value:       "-",
				Destination: &srcPath,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output file (- for stdout)",
				Value:       "-",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       formatText,
				Destination: &format,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyDecodeConfig(cmd, LoadConfig())
			if format != formatText && format != formatJSON {
				return fmt.Errorf("unknown output format %q", format)
			}

			in, closeIn, err := openInput(srcPath)
			if err != nil {
				return err
			}
			defer closeIn()
			reqs, err := readRequests(in)
			if err != nil {
				return err
			}

			svc, err := translate.New(settings(), log)
			if err != nil {
				return err
			}

			var opts []translate.Option
			if !noProgress && len(reqs) > 0 {
				bar := progressbar.NewOptions(len(reqs),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("translating"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("sent"),
					progressbar.OptionSetTheme(progressbar.ThemeASCII),
					progressbar.OptionClearOnFinish(),
				)
				defer func() { _ = bar.Finish() }()
				opts = append(opts, translate.WithProgress(func(n int) { _ = bar.Add(n) }))
			}

			results, stats, err := svc.Translate(ctx, reqs, opts...)
			if err != nil {
				return err
			}

			out, closeOut, err := openOutput(outPath)
			if err != nil {
				return err
			}
			defer closeOut()
			if err := writeResults(out, format, int(nBest), results); err != nil {
				return err
			}

			log.Info("translation complete",
				"sentences", humanize.Comma(int64(stats.Sentences)),
				"tokens", humanize.Comma(int64(stats.TokensGenerated)),
				"duration", stats.Duration,
				"tokens_per_sec", humanize.CommafWithDigits(stats.TPS, 1),
			)
			return nil
		},
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// readRequests turns every input line into a request. Blank lines are kept
// so output lines stay aligned with input lines.
func readRequests(r io.Reader) ([]translate.Request, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var reqs []translate.Request
	for sc.Scan() {
		reqs = append(reqs, translate.Request{
			ID:     strconv.Itoa(len(reqs)),
			Source: sc.Text(),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return reqs, nil
}

// writeResults writes one line per sentence, or "index ||| text ||| score"
// lines when more than one translation is requested. The json format emits
// one response object per line.
func writeResults(w io.Writer, format string, nbest int, results []translate.Response) error {
	bw := bufio.NewWriter(w)
	switch format {
	case formatJSON:
		enc := json.NewEncoder(bw)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	default:
		for i, r := range results {
			if nbest <= 1 {
				text := ""
				if len(r.NBest) > 0 {
					text = r.NBest[0].Text
				}
				if _, err := fmt.Fprintln(bw, text); err != nil {
					return err
				}
				continue
			}
			for _, t := range r.NBest {
				if _, err := fmt.Fprintf(bw, "%d ||| %s ||| %.4f\n", i, t.Text, t.Score); err != nil {
					return err
				}
			}
		}
	}
	return bw.Flush()
}
