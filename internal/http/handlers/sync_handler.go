package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offlinepos/internal/domain"
	applog "offlinepos/internal/log"
	"offlinepos/internal/syncer"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

type SyncHandler struct {
	Engine *syncer.Engine
	Conn   syncer.Connectivity
	// Done ends open event streams on shutdown.
	Done <-chan struct{}
	// KeepAlive is the comment interval on idle streams.
	KeepAlive time.Duration
}

func (h *SyncHandler) online() bool { return h.Conn != nil && h.Conn.Online() }

func (h *SyncHandler) Status(c *fiber.Ctx) error {
	pending, err := h.Engine.Pending(c.UserContext())
	if err != nil {
		return writeError(c, domain.PersistenceError("sync.status", err))
	}
	return c.JSON(fiber.Map{
		"state":       h.Engine.State(),
		"online":      h.online(),
		"pending":     pending,
		"last_result": h.Engine.LastResult(),
	})
}

// Health answers 200 while the local store is readable, whatever the
// remote's state.
func (h *SyncHandler) Health(c *fiber.Ctx) error {
	pending, err := h.Engine.Pending(c.UserContext())
	if err != nil {
		applog.Error(c, "health.store", err, nil)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "online": h.online()})
	}
	return c.JSON(fiber.Map{"ok": true, "online": h.online(), "pending": pending})
}

// Now is the manual "sync now" affordance. It ignores any backoff window.
func (h *SyncHandler) Now(c *fiber.Ctx) error {
	res, err := h.Engine.SyncNow(c.UserContext())
	switch {
	case errors.Is(err, syncer.ErrOffline):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": fiber.Map{
			"kind": "offline", "message": "No connection. Sales are saved and will sync automatically.", "recovery": domain.RecoverRetry,
		}})
	case errors.Is(err, syncer.ErrPassInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": fiber.Map{
			"kind": "in_progress", "message": "A sync is already running.", "recovery": domain.RecoverRetry,
		}})
	case err != nil:
		return writeError(c, err)
	}
	pending, _ := h.Engine.Pending(c.UserContext())
	applog.Audit(c, "sync.manual", map[string]any{"succeeded": res.Succeeded, "failed": res.Failed, "pending": pending})
	return c.JSON(fiber.Map{"result": res, "pending": pending})
}

// Events streams engine events as server-sent events.
func (h *SyncHandler) Events(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	pending, _ := h.Engine.Pending(c.UserContext())
	first := syncer.Event{State: h.Engine.State(), Online: h.online(), Pending: pending, Result: h.Engine.LastResult(), At: time.Now().UTC()}
	events, cancel := h.Engine.Subscribe()
	keep := h.KeepAlive
	if keep <= 0 {
		keep = 15 * time.Second
	}
	done := h.Done

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		tick := time.NewTicker(keep)
		defer tick.Stop()
		if writeEvent(w, first) != nil {
			return
		}
		for {
			select {
			case <-done:
				// flush what was already published, then end the stream
				for {
					select {
					case ev, ok := <-events:
						if !ok || writeEvent(w, ev) != nil {
							return
						}
					default:
						return
					}
				}
			case ev, ok := <-events:
				if !ok || writeEvent(w, ev) != nil {
					return
				}
			case <-tick.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if w.Flush() != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, ev syncer.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: sync\ndata: %s\n\n", b); err != nil {
		return err
	}
	return w.Flush()
}
