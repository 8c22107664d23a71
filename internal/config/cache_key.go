package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamineeSessionKey returns the cache key for an examinee's login session.
func (r *CacheKeyStruct) ExamineeSessionKey(examineeID int) string {
	return fmt.Sprintf("login:%d", examineeID)
}

// ExamineeAnswersKey returns the cache key for an examinee's autosaved answers.
func (r *CacheKeyStruct) ExamineeAnswersKey(examRefNo string, examineeID int) string {
	return fmt.Sprintf("examinee:%d:exam:%s:answers", examineeID, examRefNo)
}

// ExamineeRemainingKey returns the cache key for an examinee's remaining seconds.
func (r *CacheKeyStruct) ExamineeRemainingKey(examRefNo string, examineeID int) string {
	return fmt.Sprintf("examinee:%d:exam:%s:remaining", examineeID, examRefNo)
}

// ExamineeStartedKey returns the cache key for an examinee's session start time.
func (r *CacheKeyStruct) ExamineeStartedKey(examRefNo string, examineeID int) string {
	return fmt.Sprintf("examinee:%d:exam:%s:started_at", examineeID, examRefNo)
}

// ExamPayloadKey returns the cache key for an exam's question payload per phase.
func (r *CacheKeyStruct) ExamPayloadKey(examRefNo, phase string) string {
	return fmt.Sprintf("exam:%s:payload:%s", examRefNo, phase)
}

// ExamAnswerKey returns the cache key for an exam's answer key.
func (r *CacheKeyStruct) ExamAnswerKey(examRefNo string) string {
	return fmt.Sprintf("exam:%s:key", examRefNo)
}

// ExamDurationKey returns the cache key for an exam's duration in minutes.
func (r *CacheKeyStruct) ExamDurationKey(examRefNo string) string {
	return fmt.Sprintf("exam:%s:duration", examRefNo)
}

// ExamLivePhasesKey returns the cache key for the live phase-per-examinee hash.
func (r *CacheKeyStruct) ExamLivePhasesKey(examRefNo string) string {
	return fmt.Sprintf("exam:%s:live", examRefNo)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor.
func (r *CacheKeyStruct) ExamMonitorChannel(examRefNo string) string {
	return fmt.Sprintf("exam:%s:monitor", examRefNo)
}

var CacheKey = NewCacheKeyStruct()
