package bridge

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/lockwatch/internal/locker"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/subject"
)

func promptFields(p prompt.Prompt) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"subject":    string(p.Subject),
		"virtual":    p.Virtual,
		"created_at": p.CreatedAt.Format(time.RFC3339Nano),
	}
}

func promptFromFields(m map[string]any) prompt.Prompt {
	p := prompt.Prompt{
		ID:      str(m["id"]),
		Subject: subject.ID(str(m["subject"])),
	}
	p.Virtual, _ = m["virtual"].(bool)
	if ts, err := time.Parse(time.RFC3339Nano, str(m["created_at"])); err == nil {
		p.CreatedAt = ts
	}
	return p
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// EncodeSignal converts a Signal to its wire form.
func EncodeSignal(sig Signal) (*structpb.Struct, error) {
	m := map[string]any{
		"kind":    string(sig.Kind),
		"subject": string(sig.Subject),
	}
	if sig.Message != "" {
		m["message"] = sig.Message
	}
	if sig.Prompt.ID != "" {
		m["prompt"] = promptFields(sig.Prompt)
	}
	return structpb.NewStruct(m)
}

// DecodeSignal is the inverse of EncodeSignal.
func DecodeSignal(s *structpb.Struct) Signal {
	m := s.AsMap()
	sig := Signal{
		Kind:    SignalKind(str(m["kind"])),
		Subject: subject.ID(str(m["subject"])),
		Message: str(m["message"]),
	}
	if pm, ok := m["prompt"].(map[string]any); ok {
		sig.Prompt = promptFromFields(pm)
	}
	return sig
}

// EncodeSubmission packs a subject and secret for the Submit call.
func EncodeSubmission(id subject.ID, secret string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"subject": string(id), "secret": secret})
}

func decodeSubmission(s *structpb.Struct) (subject.ID, string, error) {
	m := s.AsMap()
	id := subject.ID(str(m["subject"]))
	if err := subject.Validate(id); err != nil {
		return "", "", err
	}
	return id, str(m["secret"]), nil
}

func encodeResult(r prompt.Result) (*structpb.Struct, error) {
	m := map[string]any{"outcome": string(r.Outcome)}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.Prompt.ID != "" {
		m["prompt"] = promptFields(r.Prompt)
	}
	return structpb.NewStruct(m)
}

// DecodeResult converts a Submit reply.
func DecodeResult(s *structpb.Struct) prompt.Result {
	m := s.AsMap()
	r := prompt.Result{
		Outcome: prompt.Outcome(str(m["outcome"])),
		Message: str(m["message"]),
	}
	if pm, ok := m["prompt"].(map[string]any); ok {
		r.Prompt = promptFromFields(pm)
	}
	return r
}

func encodeAuthorization(p prompt.Prompt, shown bool) (*structpb.Struct, error) {
	m := map[string]any{"shown": shown}
	if shown {
		m["prompt"] = promptFields(p)
	}
	return structpb.NewStruct(m)
}

// DecodeAuthorization converts an Authorize reply.
func DecodeAuthorization(s *structpb.Struct) (prompt.Prompt, bool) {
	m := s.AsMap()
	shown, _ := m["shown"].(bool)
	var p prompt.Prompt
	if pm, ok := m["prompt"].(map[string]any); ok {
		p = promptFromFields(pm)
	}
	return p, shown
}

func encodeStatus(st locker.Status) (*structpb.Struct, error) {
	m := map[string]any{
		"session_id": st.SessionID,
		"monitoring": st.Monitoring,
		"protected":  st.Protected,
		"stats": map[string]any{
			"events":      st.Stats.Events,
			"ignored":     st.Stats.Ignored,
			"coalesced":   st.Stats.Coalesced,
			"superseded":  st.Stats.Superseded,
			"prompted":    st.Stats.Prompted,
			"suppressed":  st.Stats.Suppressed,
			"failed_open": st.Stats.FailedOpen,
			"resets":      st.Stats.Resets,
		},
	}
	if st.Prompt != nil {
		m["prompt"] = promptFields(*st.Prompt)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return s, nil
}

// DecodeStatus converts a Status reply.
func DecodeStatus(s *structpb.Struct) locker.Status {
	m := s.AsMap()
	st := locker.Status{SessionID: str(m["session_id"])}
	st.Monitoring, _ = m["monitoring"].(bool)
	st.Protected = int(num(m["protected"]))
	if sm, ok := m["stats"].(map[string]any); ok {
		st.Stats.Events = num(sm["events"])
		st.Stats.Ignored = num(sm["ignored"])
		st.Stats.Coalesced = num(sm["coalesced"])
		st.Stats.Superseded = num(sm["superseded"])
		st.Stats.Prompted = num(sm["prompted"])
		st.Stats.Suppressed = num(sm["suppressed"])
		st.Stats.FailedOpen = num(sm["failed_open"])
		st.Stats.Resets = num(sm["resets"])
	}
	if pm, ok := m["prompt"].(map[string]any); ok {
		p := promptFromFields(pm)
		st.Prompt = &p
	}
	return st
}

func num(v any) uint64 {
	f, _ := v.(float64)
	if f < 0 {
		return 0
	}
	return uint64(f)
}
