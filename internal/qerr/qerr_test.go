package qerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestKindStatuses(t *testing.T) {
	cases := map[Kind]int{
		KindValidation: http.StatusBadRequest,
		KindScope:      http.StatusRequestEntityTooLarge,
		KindThrottle:   http.StatusTooManyRequests,
		KindNotFound:   http.StatusNotFound,
		KindStore:      http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := k.HTTPStatus(); got != want {
			t.Fatalf("%s: status=%d want %d", k, got, want)
		}
	}
}

func TestWrite_StoreErrorDoesNotLeakCause(t *testing.T) {
	err := fmt.Errorf("plan: %w", Store(errors.New("redis: connection refused at 10.0.0.3")))

	rr := httptest.NewRecorder()
	Write(rr, err)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
	var w Wire
	if err := json.Unmarshal(rr.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != 500 || w.Message != MsgServerError {
		t.Fatalf("unexpected wire %+v", w)
	}
}

func TestWrite_ThrottleSetsRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, Throttle(1500*time.Millisecond))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After=%q want 2", got)
	}
}

func TestWireFrom_ForeignError(t *testing.T) {
	w := WireFrom(errors.New("boom"))
	if w.Code != 500 || w.Message != MsgServerError {
		t.Fatalf("unexpected wire %+v", w)
	}
	if KindOf(errors.New("boom")) != KindStore {
		t.Fatal("foreign errors should classify as store failures")
	}
}
