package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the key holding a proctoring session's JSON state
func (r *CacheKeyStruct) SessionKey(sessionID string) string {
	return fmt.Sprintf("proctor:session:%s", sessionID)
}

// QuizSessionsKey returns the set of session ids started for a quiz
func (r *CacheKeyStruct) QuizSessionsKey(quizID string) string {
	return fmt.Sprintf("proctor:quiz:%s:sessions", quizID)
}

// AllSessionsKey is the set of every stored session id, walked by the reaper
func (r *CacheKeyStruct) AllSessionsKey() string {
	return "proctor:sessions"
}

// OpenSessionKey points a student at their open session for a quiz
func (r *CacheKeyStruct) OpenSessionKey(quizID string, userID int) string {
	return fmt.Sprintf("proctor:quiz:%s:student:%d:open", quizID, userID)
}

// QuizPolicyKey returns the cache key for a quiz's anti-cheat policy
func (r *CacheKeyStruct) QuizPolicyKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:policy", quizID)
}

// QuizAnswerKey returns the cache key for a quiz's ordered answer key
func (r *CacheKeyStruct) QuizAnswerKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:key", quizID)
}

// QuizMonitorChannel returns the Redis PubSub channel name for a quiz monitor
func (r *CacheKeyStruct) QuizMonitorChannel(quizID string) string {
	return fmt.Sprintf("quiz:%s:monitor", quizID)
}

var CacheKey = NewCacheKeyStruct()
