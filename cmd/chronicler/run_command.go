package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"chronicler/internal/checkpoint"
	"chronicler/internal/config"
	"chronicler/internal/logging"
	"chronicler/internal/pipeline"
	"chronicler/internal/preflight"
	"chronicler/internal/services/llm"
	"chronicler/internal/sink"
	"chronicler/internal/textutil"
	"chronicler/internal/transcript"
)

const (
	dateLayout   = "2006-01-02"
	maxRunIDBase = 100
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		runID string
		from  string
		to    string
		fresh bool
	)

	cmd := &cobra.Command{
		Use:   "run <transcript.jsonl>...",
		Short: "Generate chronicles for one or more transcripts, resuming earlier runs",
		Long: "Generate chronicles for one or more JSONL transcripts.\n\n" +
			"Each transcript is a run identified by --run-id or, by default, by its file name.\n" +
			"Running the same transcript again resumes it: windows that already succeeded are skipped.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID != "" && len(args) > 1 {
				return errors.New("--run-id can only be used with a single transcript")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForRun(); err != nil {
				return err
			}
			if failed := preflight.Failed(preflight.CheckPaths(cfg)); len(failed) > 0 {
				return fmt.Errorf("preflight: %s: %s", failed[0].Name, failed[0].Detail)
			}
			fromTime, err := parseBound(from, cfg.Location())
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toTime, err := parseBound(to, cfg.Location())
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if !fromTime.IsZero() && !toTime.IsZero() && !fromTime.Before(toTime) {
				return errors.New("--from must be before --to")
			}

			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			keys, ids, err := planRunIDs(args, runID)
			if err != nil {
				return err
			}
			requests := make([]pipeline.Request, 0, len(args))
			for i, path := range args {
				src, err := transcript.OpenJSONL(path)
				if err != nil {
					return err
				}
				defer src.Close()
				id := ids[i]
				if fresh {
					id = freshRunID(id)
				}
				requests = append(requests, pipeline.Request{
					RunID:      id,
					Source:     transcript.InRange(src, fromTime, toTime),
					SourceName: filepath.Base(path),
					SourceKey:  keys[i],
				})
			}

			results, runErr := runTranscripts(signalCtx, cfg, logger, requests)
			printRunResults(cmd, results)
			return runErr
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (defaults to the transcript file name)")
	cmd.Flags().StringVar(&from, "from", "", "Only include messages at or after this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "Only include messages before this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Start a new run instead of resuming the previous one")
	return cmd
}

func runTranscripts(ctx context.Context, cfg *config.Config, logger *slog.Logger, requests []pipeline.Request) ([]pipeline.Result, error) {
	store, err := checkpoint.Open(cfg)
	if err != nil {
		logger.Error("open checkpoint store", logging.Error(err))
		return nil, err
	}
	defer store.Close()

	if cfg.Enrichment.Enabled {
		if pruned, err := store.PruneEnrichment(ctx, time.Now()); err != nil {
			logger.Warn("failed to prune enrichment cache", logging.Error(err))
		} else if pruned > 0 {
			logger.Debug("pruned expired enrichment entries", logging.Int64("entries", pruned))
		}
	}

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.Provider.APIKey,
		BaseURL:        cfg.Provider.BaseURL,
		Model:          cfg.Provider.Model,
		Referer:        cfg.Provider.Referer,
		Title:          cfg.Provider.Title,
		TimeoutSeconds: cfg.Provider.TimeoutSeconds,
	})
	runner := pipeline.NewRunner(cfg, store, client, sink.NewMarkdown(cfg.Paths.OutputDir), pipeline.WithLogger(logger))
	return pipeline.NewPool(runner, cfg.Workers.MaxConcurrentSources).RunAll(ctx, requests)
}

func parseBound(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return ts, nil
}

// defaultRunID derives a stable run identifier from the transcript file name
// so rerunning the same file resumes it.
func defaultRunID(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id := textutil.SanitizeToken(base, maxRunIDBase)
	if id == "" {
		return "run-" + uuid.NewString()[:8]
	}
	return id
}

// planRunIDs resolves each transcript to its absolute path and run ID. Default
// IDs that collide within one invocation get a suffix derived from the path,
// so the same set of files maps to the same runs every time.
func planRunIDs(paths []string, explicit string) (keys, ids []string, err error) {
	keys = make([]string, len(paths))
	ids = make([]string, len(paths))
	seen := make(map[string]string, len(paths))
	counts := make(map[string]int, len(paths))
	for i, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		if prev, ok := seen[abs]; ok {
			return nil, nil, fmt.Errorf("transcript %s is listed more than once (%s)", abs, prev)
		}
		seen[abs] = path
		keys[i] = abs
		ids[i] = explicit
		if ids[i] == "" {
			ids[i] = defaultRunID(path)
		}
		counts[ids[i]]++
	}
	if explicit != "" {
		return keys, ids, nil
	}
	for i := range ids {
		if counts[ids[i]] > 1 {
			sum := sha256.Sum256([]byte(keys[i]))
			ids[i] = ids[i] + "-" + hex.EncodeToString(sum[:])[:8]
		}
	}
	return keys, ids, nil
}

func freshRunID(base string) string {
	return base + "-" + uuid.NewString()[:8]
}
