// Package relay bridges one telephony media stream and one speech AI session.
// Caller audio flows to the AI unchanged, assistant audio flows back to the
// caller, and caller speech during playback cuts the assistant off.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/callrelay/pkg/codec"
	"github.com/harunnryd/callrelay/pkg/errorsx"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/metrics"
	"github.com/harunnryd/callrelay/pkg/realtime"
	"github.com/harunnryd/callrelay/pkg/recorder"
	"github.com/harunnryd/callrelay/pkg/transports/twilio"
)

// DefaultMarkName is the playback marker sent after each assistant frame.
const DefaultMarkName = "responsePart"

var (
	errCallEnded = errors.New("relay: call ended")
	errAIClosed  = errors.New("relay: ai session closed")
)

// MediaStream is the telephony side of a call.
type MediaStream interface {
	Recv() (twilio.Inbound, error)
	Send(msg twilio.Outbound) error
	Close() error
}

// AISession is the speech AI side of a call.
type AISession interface {
	Recv() (realtime.ServerEvent, error)
	AppendAudio(payload string) error
	Truncate(itemID string, contentIndex int, audioEndMS int64) error
	Close() error
}

// Timeline receives audio and events for the call recording.
type Timeline interface {
	Start(callID string)
	AppendCaller(payload string, tsMS int64)
	AppendAssistant(payload string) (int, error)
	ResetAssistantAnchor()
	LogTranscript(role, text string)
	LogEvent(eventType string, data map[string]any)
	ReportDecodeError(direction string, err error)
	Finalize(callID string) (recorder.Artifacts, error)
}

type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder Timeline
	MarkName string
	// OnFinalize, when set, receives the recording result.
	OnFinalize func(recorder.Artifacts, error)
}

// Controller runs a single call. It must not be reused.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	rec     Timeline
	session *Session

	finalizeOnce sync.Once
}

func New(cfg Config) *Controller {
	if cfg.MarkName == "" {
		cfg.MarkName = DefaultMarkName
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopTimeline{}
	}
	c := &Controller{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(cfg.Logger, "relay"),
		rec:     rec,
		session: NewSession(),
	}
	c.session.AddListener(logListener{logger: c.logger})
	return c
}

// Session exposes the call state.
func (c *Controller) Session() *Session {
	return c.session
}

// Run relays until either side ends the call or ctx is canceled. Both
// connections are closed and the recording is finalized before it returns.
// A caller hangup or stream stop is a clean end and returns nil.
func (c *Controller) Run(ctx context.Context, media MediaStream, ai AISession) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.callerLoop(gctx, media, ai) })
	g.Go(func() error { return c.aiLoop(gctx, media, ai) })
	g.Go(func() error {
		<-gctx.Done()
		_ = media.Close()
		_ = ai.Close()
		return nil
	})
	err := g.Wait()
	c.finalize()

	switch {
	case err == nil, errors.Is(err, errCallEnded):
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

func (c *Controller) callerLoop(ctx context.Context, media MediaStream, ai AISession) error {
	for {
		msg, err := media.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Info("telephony_disconnected", "stream_sid", c.session.StreamSID(), "error", err)
			return errCallEnded
		}

		switch msg.Event {
		case twilio.EventStart:
			if msg.Start == nil {
				continue
			}
			c.session.Start(msg.Start.StreamSID, msg.Start.CallSID)
			c.rec.Start(msg.Start.StreamSID)
			c.logger.Info("stream_started",
				"stream_sid", msg.Start.StreamSID,
				"call_sid", msg.Start.CallSID,
			)
		case twilio.EventMedia:
			if msg.Media == nil {
				continue
			}
			ts := int64(msg.Media.Timestamp)
			c.session.ObserveMedia(ts)
			c.rec.AppendCaller(msg.Media.Payload, ts)
			if err := ai.AppendAudio(msg.Media.Payload); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("relay: forward caller audio: %w", err)
			}
			c.cfg.Metrics.Frame(ctx, metrics.DirectionIncoming)
		case twilio.EventMark:
			c.session.AckMark()
		case twilio.EventStop:
			c.logger.Info("stream_stopped", "stream_sid", c.session.StreamSID())
			return errCallEnded
		default:
			c.logger.Debug("telephony_event_ignored", "event", msg.Event)
		}
	}
}

func (c *Controller) aiLoop(ctx context.Context, media MediaStream, ai AISession) error {
	for {
		evt, err := ai.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("ai_disconnected", "stream_sid", c.session.StreamSID(), "error", err)
			return errorsx.Wrap(fmt.Errorf("%w: %v", errAIClosed, err), errorsx.ReasonAIClosed)
		}

		switch {
		case evt.IsAudioDelta():
			if err := c.handleAssistantAudio(ctx, media, evt); err != nil {
				return err
			}
		case evt.Type == realtime.EventSpeechStarted:
			if err := c.handleSpeechStarted(ctx, media, ai); err != nil {
				return err
			}
		case evt.IsAssistantTranscript():
			c.rec.LogTranscript("assistant", evt.Transcript)
		case evt.Type == realtime.EventInputTranscriptDone:
			c.rec.LogTranscript("user", evt.Transcript)
		case evt.Type == realtime.EventError:
			c.logger.Warn("ai_error_event", "message", evt.ErrorMessage())
			data := map[string]any{"message": evt.ErrorMessage()}
			if evt.Error != nil && evt.Error.Code != "" {
				data["code"] = evt.Error.Code
			}
			c.rec.LogEvent("ai_error", data)
		default:
			c.logger.Debug("ai_event", "type", evt.Type)
		}
	}
}

func (c *Controller) handleAssistantAudio(ctx context.Context, media MediaStream, evt realtime.ServerEvent) error {
	frame, err := codec.DecodeBase64(evt.Delta)
	if err != nil {
		c.rec.ReportDecodeError(metrics.DirectionOutgoing, err)
		return nil
	}
	if len(frame) == 0 {
		return nil
	}
	if c.session.IsTruncated(evt.ItemID) {
		c.logger.Debug("late_frame_dropped", "item_id", evt.ItemID)
		return nil
	}

	if c.session.BeginAudio(evt.ItemID) {
		c.rec.ResetAssistantAnchor()
	}
	if _, err := c.rec.AppendAssistant(evt.Delta); err != nil {
		return nil
	}

	streamSID := c.session.StreamSID()
	if streamSID == "" {
		c.logger.Debug("assistant_audio_before_start", "item_id", evt.ItemID)
		return nil
	}
	if err := media.Send(twilio.MediaMessage(streamSID, evt.Delta)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("relay: forward assistant audio: %w", err)
	}
	c.session.AddSentAudio(evt.ItemID, len(frame))
	c.cfg.Metrics.Frame(ctx, metrics.DirectionOutgoing)

	if sid, ok := c.session.EnqueueMark(c.cfg.MarkName); ok {
		if err := media.Send(twilio.MarkMessage(sid, c.cfg.MarkName)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: send mark: %w", err)
		}
	}
	return nil
}

func (c *Controller) handleSpeechStarted(ctx context.Context, media MediaStream, ai AISession) error {
	in, ok := c.session.Interrupt()
	if !ok {
		return nil
	}
	if err := ai.Truncate(in.ItemID, 0, in.ElapsedMS); err != nil {
		c.logger.Warn("truncate_failed", "item_id", in.ItemID, "error", err)
	}
	if in.StreamSID != "" {
		if err := media.Send(twilio.ClearMessage(in.StreamSID)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: clear playback: %w", err)
		}
	}
	c.rec.LogEvent(recorder.EventInterruption, map[string]any{
		"item_id":       in.ItemID,
		"audio_end_ms":  in.ElapsedMS,
		"sent_ms":       in.SentMS,
		"pending_marks": in.PendingMarks,
	})
	c.cfg.Metrics.Interruption(ctx, in.ElapsedMS)
	c.logger.Info("assistant_interrupted",
		"stream_sid", in.StreamSID,
		"item_id", in.ItemID,
		"audio_end_ms", in.ElapsedMS,
		"pending_marks", in.PendingMarks,
	)
	return nil
}

func (c *Controller) finalize() {
	c.finalizeOnce.Do(func() {
		art, err := c.rec.Finalize(c.session.StreamSID())
		if errors.Is(err, recorder.ErrNotStarted) {
			return
		}
		if err != nil {
			c.logger.Error("finalize_failed", "stream_sid", c.session.StreamSID(), "error", err)
		}
		if c.cfg.OnFinalize != nil {
			c.cfg.OnFinalize(art, err)
		}
	})
}

type logListener struct {
	logger *slog.Logger
}

func (l logListener) OnStateChange(ev StateChange) {
	l.logger.Debug("state_change",
		"from", ev.FromState.String(),
		"to", ev.ToState.String(),
		"item_id", ev.ItemID,
		"reason", ev.Reason,
	)
}

type nopTimeline struct{}

func (nopTimeline) Start(string) {}
func (nopTimeline) AppendCaller(string, int64) {}
func (nopTimeline) ResetAssistantAnchor() {}
func (nopTimeline) LogTranscript(string, string) {}
func (nopTimeline) LogEvent(string, map[string]any) {}
func (nopTimeline) ReportDecodeError(string, error) {}
func (nopTimeline) Finalize(string) (recorder.Artifacts, error) { return recorder.Artifacts{}, recorder.ErrNotStarted }
func (nopTimeline) AppendAssistant(payload string) (int, error) {
	frame, err := codec.DecodeBase64(payload)
	return len(frame), err
}
