package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeIdentification QuestionType = "identification"
	QuestionTypeTrueOrFalse    QuestionType = "true_or_false"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeEnumeration    QuestionType = "enumeration"
	QuestionTypeReflection     QuestionType = "reflection"
)

// AutoGradable reports whether answers to this type can be checked
// against the key without a human.
func (t QuestionType) AutoGradable() bool {
	return t != QuestionTypeEssay && t != QuestionTypeReflection
}

// Question is one entry of a quiz's answer key. For enumeration the answer
// is a comma-delimited set of accepted terms.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	QuizID       uuid.UUID    `json:"quiz_id"`
	Position     int          `json:"position"`
	QuestionType QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Choices      []string     `json:"choices,omitempty"`
	Answer       string       `json:"answer"`
}
