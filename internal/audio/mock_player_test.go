package audio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockPlayer_NaturalCompletion(t *testing.T) {
	mp := NewMockPlayer(5 * time.Millisecond)

	done, err := mp.Start([]byte("line-1"))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if mp.State() != StatePlaying {
		t.Errorf("state = %v, want playing", mp.State())
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("natural end reported %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("playback never completed")
	}

	if mp.State() != StateStopped {
		t.Errorf("state = %v after completion", mp.State())
	}
	events := mp.Events()
	if len(events) != 2 || events[0].Kind != "start" || events[1].Kind != "end" {
		t.Errorf("events = %+v", events)
	}
}

func TestMockPlayer_StopInterrupts(t *testing.T) {
	mp := NewMockPlayer(time.Hour)

	done, _ := mp.Start([]byte("long"))
	if err := mp.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}

	// Stop is idempotent.
	if err := mp.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestMockPlayer_StartReplacesCurrent(t *testing.T) {
	mp := NewMockPlayer(time.Hour)

	first, _ := mp.Start([]byte("a"))
	second, _ := mp.Start([]byte("b"))

	if err := <-first; !errors.Is(err, ErrStopped) {
		t.Errorf("first stream ended with %v", err)
	}
	mp.Close()
	<-second

	played := mp.Played()
	if len(played) != 2 || string(played[0]) != "a" || string(played[1]) != "b" {
		t.Errorf("played = %q", played)
	}
}

func TestMockPlayer_ScriptedFailures(t *testing.T) {
	mp := NewMockPlayer(time.Millisecond)
	boom := errors.New("device lost")
	mp.FailPayload([]byte("bad"), boom)

	done, _ := mp.Start([]byte("bad"))
	if err := <-done; !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}

	mp.FailStart(boom)
	if _, err := mp.Start([]byte("good")); !errors.Is(err, boom) {
		t.Errorf("expected start error, got %v", err)
	}
	mp.FailStart(nil)

	if _, err := mp.Start(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestMockPlayer_Closed(t *testing.T) {
	mp := NewMockPlayer(time.Millisecond)
	mp.Close()

	if _, err := mp.Start([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMockPlayer_Callbacks(t *testing.T) {
	var starts, ends atomic.Int32
	mp := NewMockPlayer(time.Millisecond)
	mp.SetCallbacks(MockCallbacks{
		OnStart: func([]byte) { starts.Add(1) },
		OnEnd:   func([]byte, error) { ends.Add(1) },
	})

	done, _ := mp.Start([]byte("x"))
	<-done

	if starts.Load() != 1 || ends.Load() != 1 {
		t.Errorf("starts=%d ends=%d", starts.Load(), ends.Load())
	}
}
