package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestAttemptCompletedEventShape(t *testing.T) {
	a := &model.QuizAttempt{
		ID:               uuid.New(),
		SessionID:        uuid.New(),
		QuizID:           uuid.New(),
		UserID:           42,
		Score:            3,
		TotalQuestions:   4,
		Percentage:       75,
		Disqualified:     true,
		CompletionReason: model.CompletionAutoSubmit,
		CompletedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(NewAttemptCompletedEvent(a))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got["attempt_id"] != a.ID.String() || got["quiz_id"] != a.QuizID.String() {
		t.Errorf("ids not carried: %v", got)
	}
	if got["percentage"] != 75.0 || got["disqualified"] != true {
		t.Errorf("grade fields not carried: %v", got)
	}
	if got["completion_reason"] != "auto_submitted" {
		t.Errorf("completion_reason = %v", got["completion_reason"])
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.PublishAttempt(context.Background(), &model.QuizAttempt{}); err != nil {
		t.Fatalf("PublishAttempt: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
