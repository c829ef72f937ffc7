// Package main provides coletactl, the operator tool for the survey
// capture service. It works on the local database directly, so it can
// inspect and repair pending surveys while the service is stopped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/config"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/db"
	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/pending"
)

// Version is set at build time
var Version = "0.1.0"

const usage = `usage: coletactl [-data-dir DIR] <command> [args]

commands:
  list              list pending surveys
  get ID            print one pending survey
  count             print the number of pending surveys
  remove ID         delete a pending survey
  clear -yes        delete every pending survey
  failed            list quarantined surveys
  requeue ID        move a quarantined survey back to pending
  discard ID        delete a quarantined survey locally (the service API also removes its photo)
  sync [-server U]  ask the running service for a sync pass and wait
  version           print the version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	logging.Init(stderr, logging.ParseLevel(cfg.LogLevel))

	fs := flag.NewFlagSet("coletactl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", cfg.DataDir, "directory holding the local database")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "coletactl v%s\n", Version)
		return 0
	case "sync":
		return report(stderr, runSync(rest, cfg, stdout))
	}

	database, err := db.OpenAndMigrate(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "open database: %v\n", err)
		return 1
	}
	defer database.Close()

	c := &cli{store: pending.NewSQLiteStore(database.DB), out: stdout}
	ctx := context.Background()

	switch cmd {
	case "list":
		err = c.list(ctx)
	case "count":
		err = c.count(ctx)
	case "get":
		err = withID(rest, func(id string) error { return c.get(ctx, id) })
	case "remove":
		err = withID(rest, func(id string) error { return c.remove(ctx, id) })
	case "clear":
		err = c.clear(ctx, rest, stderr)
	case "failed":
		err = c.failed(ctx)
	case "requeue":
		err = withID(rest, func(id string) error { return c.requeue(ctx, id) })
	case "discard":
		err = withID(rest, func(id string) error { return c.discard(ctx, id) })
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}
	return report(stderr, err)
}

func report(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	if apperrors.Is(err, apperrors.ErrInvalid) {
		return 2
	}
	return 1
}

func withID(args []string, fn func(id string) error) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return apperrors.New(apperrors.ErrInvalid, "exactly one survey ID is required")
	}
	return fn(args[0])
}

type cli struct {
	store pending.Store
	out   io.Writer
}

func (c *cli) list(ctx context.Context) error {
	surveys, err := c.store.ListPending(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCAPTURED\tATTEMPTS\tPHOTO\tLAST ERROR")
	for _, s := range surveys {
		photo := "-"
		if s.HasPhoto() {
			photo = fmt.Sprintf("%s %dB", s.Photo.MimeType, s.Photo.Size())
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.CapturedAt.Local().Format(time.DateTime), s.AttemptCount, photo, truncate(s.LastError, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d pending\n", len(surveys))
	return nil
}

func (c *cli) count(ctx context.Context) error {
	n, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, n)
	return nil
}

func (c *cli) get(ctx context.Context, id string) error {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	view := map[string]interface{}{
		"id":            s.ID,
		"form_data":     s.FormData,
		"captured_at":   s.CapturedAt,
		"attempt_count": s.AttemptCount,
		"has_photo":     s.HasPhoto(),
	}
	if s.LastError != "" {
		view["last_error"] = s.LastError
	}
	if s.HasPhoto() {
		view["photo_mime_type"] = s.Photo.MimeType
		view["photo_size"] = s.Photo.Size()
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func (c *cli) remove(ctx context.Context, id string) error {
	if _, err := c.store.Get(ctx, id); err != nil {
		return err
	}
	if err := c.store.Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "removed %s\n", id)
	return nil
}

func (c *cli) clear(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(stderr)
	yes := fs.Bool("yes", false, "confirm deleting every pending survey")
	if err := fs.Parse(args); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid flags", err)
	}
	if !*yes {
		return apperrors.New(apperrors.ErrInvalid, "clear deletes unsynced surveys; pass -yes to confirm")
	}

	n, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cleared %d pending surveys\n", n)
	return nil
}

func (c *cli) failed(ctx context.Context) error {
	failed, err := c.store.ListFailed(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFAILED\tATTEMPTS\tREASON")
	for _, f := range failed {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			f.ID, f.FailedAt.Local().Format(time.DateTime), f.AttemptCount, truncate(f.Reason, 80))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d failed\n", len(failed))
	return nil
}

func (c *cli) requeue(ctx context.Context, id string) error {
	if err := c.store.Requeue(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "requeued %s\n", id)
	return nil
}

func (c *cli) discard(ctx context.Context, id string) error {
	if err := c.store.Discard(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "discarded %s\n", id)
	return nil
}

// runSync asks the running service for a pass and prints its result.
func runSync(args []string, cfg config.Config, stdout io.Writer) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	server := fs.String("server", serviceURL(cfg.HTTPAddr), "base URL of the running service")
	timeout := fs.Duration("timeout", cfg.SyncTimeout+10*time.Second, "how long to wait for the pass")
	if err := fs.Parse(args); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid flags", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*server, "/")+"/sync?wait=true", nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid server URL", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error.Code != "" {
			return apperrors.New(apperrors.ErrorCode(e.Error.Code), e.Error.Message)
		}
		return apperrors.New(apperrors.ErrInternal, fmt.Sprintf("service answered %s", resp.Status))
	}

	var result struct {
		Total        int    `json:"total"`
		SuccessCount int    `json:"success_count"`
		FailureCount int    `json:"failure_count"`
		Quarantined  int    `json:"quarantined"`
		Deferred     int    `json:"deferred"`
		Outcome      string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "unexpected response", err)
	}
	fmt.Fprintf(stdout, "%s: %d/%d sent, %d failed (%d quarantined), %d deferred\n",
		result.Outcome, result.SuccessCount, result.Total, result.FailureCount, result.Quarantined, result.Deferred)
	return nil
}

// serviceURL turns a listen address such as ":8090" into a local URL.
func serviceURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
