// Package inbox imports survey capture files dropped into a directory.
//
// Field tablets without the web UI export each survey as a JSON file
// ({"form_data": {...}, "photo_file": "x.jpg", "mime_type": "image/jpeg"})
// with an optional photo next to it. Imported files move to processed/;
// files that cannot be parsed move to rejected/.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/photo"
)

const (
	processedDir = "processed"
	rejectedDir  = "rejected"
)

// Saver persists an imported survey.
type Saver interface {
	Save(ctx context.Context, formData models.FormData, photo *models.PhotoBlob) (string, error)
}

// CaptureFile is the on-disk export format.
type CaptureFile struct {
	FormData  models.FormData `json:"form_data"`
	PhotoFile string          `json:"photo_file,omitempty"`
	MimeType  string          `json:"mime_type,omitempty"`
}

// defaultRetryDelay is how long a capture that hit a storage fault waits
// before the next import attempt.
const defaultRetryDelay = 5 * time.Second

// Watcher imports capture files as they appear.
type Watcher struct {
	dir        string
	saver      Saver
	settle     time.Duration
	retryDelay time.Duration
	onImport   func(id string)
}

// New creates a Watcher over dir. settle is how long a file must stay
// unchanged before it is imported; zero means 300ms.
func New(dir string, saver Saver, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}
	return &Watcher{dir: dir, saver: saver, settle: settle, retryDelay: defaultRetryDelay}
}

// OnImport sets a callback run after each successful import.
func (w *Watcher) OnImport(fn func(id string)) {
	w.onImport = fn
}

// Run imports files already present, then watches for new ones until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{processedDir, rejectedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create inbox directory: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logging.Info("Watching inbox (debounced)", map[string]interface{}{"dir": w.dir})

	// pending maps a capture file name to the time it becomes due.
	pending := map[string]time.Time{}
	for _, name := range w.importExisting(ctx) {
		pending[name] = time.Now().Add(w.retryDelay)
	}

	tick := w.settle / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isCaptureFile(name) {
				continue
			}
			pending[name] = time.Now().Add(w.settle)

		case <-ticker.C:
			now := time.Now()
			for name, due := range pending {
				if now.Before(due) {
					continue
				}
				delete(pending, name)
				if w.importLogged(ctx, name) {
					pending[name] = now.Add(w.retryDelay)
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("inbox watch error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// importExisting imports the files already in the inbox and returns the
// names worth retrying.
func (w *Watcher) importExisting(ctx context.Context) []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.Warn("failed to scan inbox", map[string]interface{}{"error": err.Error()})
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isCaptureFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var retry []string
	for _, name := range names {
		if w.importLogged(ctx, name) {
			retry = append(retry, name)
		}
	}
	return retry
}

// importLogged imports name and logs the outcome. It returns true when the
// file stayed in the inbox after a fault that a later attempt may clear.
func (w *Watcher) importLogged(ctx context.Context, name string) (retry bool) {
	id, err := w.ImportFile(ctx, name)
	if err != nil {
		retry = !apperrors.Is(err, apperrors.ErrMalformedRecord) && !apperrors.Is(err, apperrors.ErrNotFound)
		logging.ErrorWithCode("inbox import failed", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"file":  name,
			"retry": retry,
		})
		return retry
	}
	logging.Info("survey imported from inbox", map[string]interface{}{"file": name, "id": id})
	if w.onImport != nil {
		w.onImport(id)
	}
	return false
}

func isCaptureFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json") && !strings.HasPrefix(name, ".")
}

// ImportFile imports one capture file from the inbox directory and returns
// the new pending survey id. A file that cannot be parsed is moved to
// rejected/ and a MALFORMED_RECORD error is returned; a storage fault
// leaves the file in place and Run tries it again later.
func (w *Watcher) ImportFile(ctx context.Context, name string) (string, error) {
	name = filepath.Base(name)
	path := filepath.Join(w.dir, name)

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperrors.Wrap(apperrors.ErrNotFound, "capture file vanished", err)
		}
		return "", apperrors.Wrap(apperrors.ErrStorageFault, "failed to read capture file", err)
	}

	capture, blob, photoPath, err := w.parse(raw)
	if err != nil {
		w.move(rejectedDir, name, photoPath)
		return "", err
	}

	id, err := w.saver.Save(ctx, capture.FormData, blob)
	if err != nil {
		return "", err
	}

	w.move(processedDir, name, photoPath)
	return id, nil
}

func (w *Watcher) parse(raw []byte) (*CaptureFile, *models.PhotoBlob, string, error) {
	var capture CaptureFile
	if err := json.Unmarshal(raw, &capture); err != nil {
		return nil, nil, "", apperrors.WrapTerminal(apperrors.ErrMalformedRecord, "invalid capture file", err)
	}
	if capture.FormData == nil {
		return nil, nil, "", apperrors.NewTerminal(apperrors.ErrMalformedRecord, "capture file has no form_data")
	}
	if capture.PhotoFile == "" {
		return &capture, nil, "", nil
	}

	// Sidecars must sit next to the capture file.
	photoName := filepath.Base(capture.PhotoFile)
	data, err := os.ReadFile(filepath.Join(w.dir, photoName))
	if err != nil {
		return nil, nil, "", apperrors.WrapTerminal(apperrors.ErrMalformedRecord,
			fmt.Sprintf("photo %s is missing", photoName), err)
	}
	mime := capture.MimeType
	if mime == "" || mime == "application/octet-stream" {
		mime = photo.DetectMIME(data)
	}
	return &capture, &models.PhotoBlob{Data: data, MimeType: mime}, photoName, nil
}

// move relocates the capture file and its sidecar into sub. Failures are
// logged and the file stays in the inbox until the next startup scan.
func (w *Watcher) move(sub string, names ...string) {
	stamp := time.Now().UTC().Format("20060102T150405")
	for _, name := range names {
		if name == "" {
			continue
		}
		dst := filepath.Join(w.dir, sub, stamp+"-"+name)
		if err := os.Rename(filepath.Join(w.dir, name), dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("failed to move inbox file", map[string]interface{}{
				"file":  name,
				"to":    sub,
				"error": err.Error(),
			})
		}
	}
}
