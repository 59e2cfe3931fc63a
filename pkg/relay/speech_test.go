package relay

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
)

func TestVoiceMapperDefaults(t *testing.T) {
	m := newVoiceMapper(nil)
	if got := m.persona("alloy"); got != "male-qn-qingse" {
		t.Errorf("alloy = %q, want male-qn-qingse", got)
	}
	if got := m.persona("shimmer"); got != "female-tianmei" {
		t.Errorf("shimmer = %q, want female-tianmei", got)
	}
}

func TestVoiceMapperPartialOverride(t *testing.T) {
	m := newVoiceMapper([]string{"custom-a", "custom-b", "custom-c"})
	if got := m.persona("alloy"); got != "custom-a" {
		t.Errorf("alloy = %q, want custom-a", got)
	}
	if got := m.persona("fable"); got != "custom-c" {
		t.Errorf("fable = %q, want custom-c", got)
	}
	// Positions past the override list keep the defaults.
	if got := m.persona("onyx"); got != "male-qn-jingying" {
		t.Errorf("onyx = %q, want male-qn-jingying", got)
	}
}

func TestVoiceMapperUnknownVoice(t *testing.T) {
	m := newVoiceMapper(nil)
	if got := m.persona("whatever"); got != "male-qn-qingse" {
		t.Errorf("unknown voice = %q, want the alloy persona", got)
	}
}

func TestSpeech(t *testing.T) {
	f := newFakeUpstream(t)
	f.streams = []func(http.ResponseWriter){helloScript("c1", "m1")}
	f.ttsStates = []hailuo.SynthesisState{
		{Status: hailuo.SynthesisPending},
		{Status: hailuo.SynthesisDone, AudioURLs: []string{
			f.srv.URL + "/audio/a1",
			f.srv.URL + "/audio/a2",
		}},
	}
	r := f.newRelay(WithSynthesisTimeout(time.Second, time.Millisecond))

	audio, err := r.Speech(context.Background(), "tok", &SpeechRequest{
		Model: "hailuo-tts",
		Input: "你好",
		Voice: "nova",
	})
	if err != nil {
		t.Fatalf("Speech: %v", err)
	}
	want := "seg:/audio/a1;seg:/audio/a2;"
	if string(audio) != want {
		t.Errorf("audio = %q, want %q", audio, want)
	}

	f.mu.Lock()
	personas := append([]string(nil), f.personas...)
	f.mu.Unlock()
	if len(personas) != 1 || personas[0] != "female-chengshu" {
		t.Errorf("persona switches = %v, want [female-chengshu]", personas)
	}

	// The synthesis conversation is ephemeral.
	select {
	case <-f.deleteCh:
	case <-time.After(2 * time.Second):
		t.Error("synthesis conversation was never deleted")
	}
}

func TestSpeechTimeoutReleasesCredential(t *testing.T) {
	f := newFakeUpstream(t)
	f.streams = []func(http.ResponseWriter){helloScript("c1", "m1")}
	f.ttsStates = []hailuo.SynthesisState{{Status: hailuo.SynthesisPending}}
	r := f.newRelay(WithSynthesisTimeout(10*time.Millisecond, time.Millisecond))

	_, err := r.Speech(context.Background(), "tok", &SpeechRequest{Input: "hi", Voice: "alloy"})
	var timeout *SynthesisTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want *SynthesisTimeoutError", err)
	}

	// The per-credential lock must be free again after the timeout.
	f.mu.Lock()
	f.ttsStates = []hailuo.SynthesisState{{
		Status:    hailuo.SynthesisDone,
		AudioURLs: []string{f.srv.URL + "/audio/b1"},
	}}
	f.mu.Unlock()

	audio, err := r.Speech(context.Background(), "tok", &SpeechRequest{Input: "hi", Voice: "alloy"})
	if err != nil {
		t.Fatalf("Speech after timeout: %v", err)
	}
	if string(audio) != "seg:/audio/b1;" {
		t.Errorf("audio = %q, want seg:/audio/b1;", audio)
	}
}

// A repeat-back turn that never produces a message handle still opened a
// conversation upstream; it must not linger in the account history.
func TestSpeechMissingHandleStillCleansUp(t *testing.T) {
	f := newFakeUpstream(t)
	f.streams = []func(http.ResponseWriter){helloScript("c1", "")}
	r := f.newRelay(WithSynthesisTimeout(time.Second, time.Millisecond))

	_, err := r.Speech(context.Background(), "tok", &SpeechRequest{Input: "hi", Voice: "alloy"})
	var empty *SynthesisEmptyError
	if !errors.As(err, &empty) {
		t.Fatalf("err = %v, want *SynthesisEmptyError", err)
	}

	select {
	case id := <-f.deleteCh:
		if id != "c1" {
			t.Errorf("deleted conversation = %q, want c1", id)
		}
	case <-time.After(2 * time.Second):
		t.Error("orphaned conversation was never deleted")
	}
}

func TestSpeechEmptySegments(t *testing.T) {
	f := newFakeUpstream(t)
	f.streams = []func(http.ResponseWriter){helloScript("c1", "m1")}
	f.ttsStates = []hailuo.SynthesisState{{Status: hailuo.SynthesisDone}}
	r := f.newRelay(WithSynthesisTimeout(time.Second, time.Millisecond))

	_, err := r.Speech(context.Background(), "tok", &SpeechRequest{Input: "hi", Voice: "echo"})
	var empty *SynthesisEmptyError
	if !errors.As(err, &empty) {
		t.Fatalf("err = %v, want *SynthesisEmptyError", err)
	}
}
