package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/providers/llm"
	"github.com/jastalk/jastalk/internal/providers/stt"
)

// InterviewWorkerPool consumes candidate utterances from a Redis stream,
// transcribes audio when needed, generates the interviewer's reply, and
// publishes the results on the session's pub/sub channels. It is pure
// compute: transcript persistence belongs to the session controller on
// the WebSocket side, so a crashed worker never leaves half-written
// conversation rows.
type InterviewWorkerPool struct {
	Redis      *redis.Client
	NumWorkers int

	STT stt.Provider
	LLM llm.Provider

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

const (
	DefaultUtteranceStream = "interview:utterances"
	defaultWorkerGroup     = "interview-workers"
)

func (p *InterviewWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.STT == nil || p.LLM == nil {
		return errors.New("InterviewWorkerPool missing dependency: Redis/STT/LLM must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultUtteranceStream
	}
	if p.Group == "" {
		p.Group = defaultWorkerGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *InterviewWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func normalizeLanguage(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "id", "id-ID":
		return "id-ID"
	case "en", "en-US":
		return "en-US"
	default:
		if v == "" {
			return "en-US"
		}
		return v
	}
}

func (p *InterviewWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	sessionID := getStr("session_id")
	seqStr := getStr("seq")
	if sessionID == "" || seqStr == "" {
		return
	}
	seq, _ := strconv.ParseInt(seqStr, 10, 64)

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":   msg.ID,
		"session_id": sessionID,
		"seq":        seq,
	})

	respCh := "session:" + sessionID + ":response"
	statusCh := "session:" + sessionID + ":status"

	publishStatus := func(status, message string) {
		_ = p.Redis.Publish(ctx, statusCh,
			`{"type":"status","status":"`+status+`","message":"`+message+`","seq":`+strconv.FormatInt(seq, 10)+`}`).Err()
	}

	// The user's utterance arrives as text (browser STT, text fallback)
	// or as audio to transcribe here.
	text := getStr("text")
	if text == "" {
		b64 := getStr("audio_base64")
		if b64 == "" {
			return
		}
		raw := b64
		if i := strings.Index(raw, ","); i >= 0 {
			raw = raw[i+1:] // strip data:...;base64,
		}
		audio, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			log.WithError(err).Warn("base64 decode failed")
			publishStatus("failed", "invalid audio_base64")
			return
		}

		publishStatus("processing", "transcribing")
		language := normalizeLanguage(getStr("language"))
		transcript, conf, err := p.STT.Transcribe(ctx, audio, language)
		if err != nil {
			log.WithError(err).Error("stt failed")
			publishStatus("failed", "stt failed")
			return
		}
		text = transcript

		sttPayload, _ := json.Marshal(map[string]any{
			"type":       "stt_result",
			"seq":        seq,
			"text":       transcript,
			"confidence": conf,
			"is_final":   true,
		})
		_ = p.Redis.Publish(ctx, respCh, string(sttPayload)).Err()
	}

	if strings.TrimSpace(text) == "" {
		publishStatus("failed", "empty utterance")
		return
	}

	// Interviewer reply, streamed chunk by chunk.
	start := time.Now()
	publishStatus("processing", "generating reply")

	prompt := buildReplyPrompt(getStr("agent_identity"), getStr("question"), text)
	chunks, errs := p.LLM.StreamAnswer(ctx, prompt)

	full := strings.Builder{}
	chunkSeq := int64(0)

	for chunk := range chunks {
		chunkSeq++
		full.WriteString(chunk)

		chPayload, _ := json.Marshal(map[string]any{
			"type":      "llm_chunk",
			"seq":       seq,
			"chunk_seq": chunkSeq,
			"chunk":     chunk,
		})
		_ = p.Redis.Publish(ctx, respCh, string(chPayload)).Err()
	}

	var streamErr error
	select {
	case streamErr = <-errs:
	default:
	}
	if streamErr != nil {
		log.WithError(streamErr).Error("llm stream failed")
		publishStatus("failed", "llm failed")
		return
	}

	donePayload, _ := json.Marshal(map[string]any{
		"type":               "llm_complete",
		"seq":                seq,
		"full_response":      full.String(),
		"processing_time_ms": time.Since(start).Milliseconds(),
	})
	_ = p.Redis.Publish(ctx, respCh, string(donePayload)).Err()
	publishStatus("done", "utterance processed")
}

func buildReplyPrompt(agentIdentity, question, utterance string) string {
	var b strings.Builder
	b.WriteString("You are conducting a mock job interview")
	if agentIdentity != "" {
		b.WriteString(" in the persona of ")
		b.WriteString(agentIdentity)
	}
	b.WriteString(". Stay in character and reply concisely, then probe deeper or move on.\n")
	if question != "" {
		b.WriteString("\nCurrent question:\n")
		b.WriteString(question)
		b.WriteString("\n")
	}
	b.WriteString("\nCandidate said:\n")
	b.WriteString(utterance)
	return b.String()
}
