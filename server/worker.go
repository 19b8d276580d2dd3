package server

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/bishwajit-sharma101/AstrixChat/internal/translate"
)

// TranslationStore is the slice of the store the worker writes back to.
type TranslationStore interface {
	SetTranslation(ctx context.Context, messageID, lang, translated string) error
}

type translationJob struct {
	messageID   string
	text        string
	audioBase64 string
	targetLang  string
}

// TranslationWorker pre-computes translations for recipients who were
// offline at send time. It is strictly best-effort cache-warming: jobs are
// fire-and-forget, failures are logged and swallowed, and nothing on the
// send path ever waits for it.
type TranslationWorker struct {
	store      TranslationStore
	translator translate.Translator
	jobs       chan translationJob
	timeout    time.Duration
	done       chan struct{}
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewTranslationWorker creates a worker with the given queue capacity and
// per-job timeout.
func NewTranslationWorker(store TranslationStore, translator translate.Translator, queueSize int, timeout time.Duration, logger *slog.Logger) *TranslationWorker {
	return &TranslationWorker{
		store:      store,
		translator: translator,
		jobs:       make(chan translationJob, queueSize),
		timeout:    timeout,
		done:       make(chan struct{}),
		logger:     logger.With("component", "translation_worker"),
	}
}

// Run drains the queue until Close is called. Jobs run independently of the
// connection that triggered them; there is no cancellation.
func (w *TranslationWorker) Run() {
	for job := range w.jobs {
		w.process(job)
	}
	close(w.done)
}

// Dispatch queues a job without blocking. If the queue is full, or the worker
// has already been closed during shutdown, the job is dropped; the recipient
// can always request the translation synchronously when they view the
// message. Connections can outlive the HTTP server's Shutdown, so sends may
// still arrive after Close.
func (w *TranslationWorker) Dispatch(job translationJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("translation worker closed, dropping job", "message_id", job.messageID)
		return
	}
	select {
	case w.jobs <- job:
	default:
		w.logger.Warn("translation queue full, dropping job", "message_id", job.messageID)
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish. It is
// idempotent, and Dispatch remains safe to call afterwards.
func (w *TranslationWorker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *TranslationWorker) process(job translationJob) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var translated string
	var err error

	if job.audioBase64 != "" {
		var audio []byte
		audio, err = base64.StdEncoding.DecodeString(job.audioBase64)
		if err == nil {
			var res *translate.VoiceResult
			res, err = w.translator.TranslateVoice(ctx, audio, job.targetLang)
			if err == nil {
				translated = res.TranslatedText
			}
		}
	} else {
		translated, err = w.translator.Translate(ctx, job.text, job.targetLang)
	}

	if err != nil {
		w.logger.Warn("catch-up translation failed",
			"message_id", job.messageID, "lang", job.targetLang, "error", err)
		return
	}
	if translated == "" {
		return
	}

	if err := w.store.SetTranslation(ctx, job.messageID, job.targetLang, translated); err != nil {
		w.logger.Warn("failed to store translation",
			"message_id", job.messageID, "lang", job.targetLang, "error", err)
	}
}
