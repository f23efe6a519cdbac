// Command labextract extracts clinical lab results from PDFs and images into
// a JSON file using an OpenAI-compatible API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/foodgrid/server/internal/labs"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// usageError marks failures caused by bad arguments or environment. They
// exit with status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type options struct {
	output   string
	model    string
	prompt   string
	inputDir string
	maxFiles int
	verbose  bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var ue *usageError
		switch {
		case errors.As(err, &ue):
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			os.Exit(2)
		case errors.Is(err, context.Canceled):
			os.Exit(130)
		default:
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			os.Exit(1)
		}
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "labextract [files...]",
		Short:         "Extract clinical lab results JSON from PDFs and images",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := charmlog.InfoLevel
			if opts.verbose {
				level = charmlog.DebugLevel
			}
			charmlog.SetLevel(level)
			return run(cmd.Context(), opts, args)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "labs.json", "path to write the JSON output")
	f.StringVarP(&opts.model, "model", "m", "gpt-4.1", "model to use (must accept images and files)")
	f.StringVar(&opts.prompt, "prompt", "ai-prompt.md", "prompt file containing SYSTEM/USER blocks")
	f.StringVar(&opts.inputDir, "input-dir", "input_files", "directory of PDFs/images used when no files are given")
	f.IntVar(&opts.maxFiles, "max-files", 0, "max number of files to include (0 = no limit)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	return cmd
}

func run(ctx context.Context, opts *options, args []string) error {
	_ = godotenv.Load()
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return usagef("OPENAI_API_KEY is not set (set in environment or in a .env file)")
	}

	paths, err := collectInputs(args, opts.inputDir)
	if err != nil {
		return err
	}
	if opts.maxFiles > 0 && len(paths) > opts.maxFiles {
		paths = paths[:opts.maxFiles]
	}

	prompt, err := filepath.Abs(opts.prompt)
	if err != nil {
		return err
	}

	client, err := labs.NewClient(labs.ClientConfig{
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		APIKey:  apiKey,
	})
	if err != nil {
		return err
	}

	charmlog.Debug("extracting", "files", len(paths), "model", opts.model, "prompt", prompt)
	data, err := labs.NewExtractor(client, opts.model).Extract(ctx, labs.Request{
		Paths:      paths,
		Model:      opts.model,
		PromptPath: prompt,
	})
	if errors.Is(err, labs.ErrNoInputs) {
		return usagef("%v", err)
	}
	if err != nil {
		return err
	}

	if err := labs.WriteResult(opts.output, data); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}
	fmt.Printf("Wrote %s\n", opts.output)
	return nil
}

// collectInputs resolves explicit files, or lists the supported files of
// inputDir when none are given.
func collectInputs(args []string, inputDir string) ([]string, error) {
	if len(args) > 0 {
		paths := make([]string, 0, len(args))
		for _, a := range args {
			p, err := filepath.Abs(a)
			if err != nil {
				return nil, err
			}
			st, err := os.Stat(p)
			if err != nil || !st.Mode().IsRegular() {
				return nil, usagef("file not found: %s", p)
			}
			paths = append(paths, p)
		}
		return paths, nil
	}

	dir, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, usagef("input directory not found: %s", dir)
	}
	paths, err := labs.ListDir(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, usagef("no supported files found in directory: %s", dir)
	}
	return paths, nil
}
