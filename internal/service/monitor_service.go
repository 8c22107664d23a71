package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MonitorEventType identifies live monitor events.
type MonitorEventType string

const (
	MonitorEventStarted   MonitorEventType = "started"
	MonitorEventStopped   MonitorEventType = "stopped"
	MonitorEventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is one live monitoring message for proctor dashboards.
type MonitorEvent struct {
	Type       MonitorEventType `json:"type"`
	ExamRefNo  string           `json:"exam_ref_no"`
	ExamineeID int              `json:"examinee_id"`
	Phase      model.Phase      `json:"phase,omitempty"`
	Score      *float64         `json:"score,omitempty"`
	At         time.Time        `json:"at"`
}

// MonitorService mirrors session lifecycle events into Redis so proctor
// dashboards can reflect live state. All publishes are best-effort — session
// progress never blocks on monitoring.
type MonitorService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb: rdb,
		log: log.With().Str("component", "monitor_service").Logger(),
	}
}

// PublishStarted records a phase entry. Also stamps the session start time
// (first write wins) used for elapsed-time computation at scoring.
func (s *MonitorService) PublishStarted(ctx context.Context, examRefNo string, examineeID int, phase model.Phase) {
	startKey := config.CacheKey.ExamineeStartedKey(examRefNo, examineeID)
	if err := s.rdb.SetNX(ctx, startKey, time.Now().Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_ref_no", examRefNo).Msg("Session start stamp failed")
	}

	s.rdb.HSet(ctx, config.CacheKey.ExamLivePhasesKey(examRefNo), strconv.Itoa(examineeID), string(phase))

	s.publish(ctx, MonitorEvent{
		Type:       MonitorEventStarted,
		ExamRefNo:  examRefNo,
		ExamineeID: examineeID,
		Phase:      phase,
		At:         time.Now(),
	})
}

// PublishStopped records that a device left the exam (abort or completion).
func (s *MonitorService) PublishStopped(ctx context.Context, examRefNo string, examineeID int) {
	s.rdb.HDel(ctx, config.CacheKey.ExamLivePhasesKey(examRefNo), strconv.Itoa(examineeID))

	s.publish(ctx, MonitorEvent{
		Type:       MonitorEventStopped,
		ExamRefNo:  examRefNo,
		ExamineeID: examineeID,
		At:         time.Now(),
	})
}

// PublishSubmitted records a scored submission.
func (s *MonitorService) PublishSubmitted(ctx context.Context, examRefNo string, examineeID int, score float64) {
	s.rdb.HDel(ctx, config.CacheKey.ExamLivePhasesKey(examRefNo), strconv.Itoa(examineeID))

	s.publish(ctx, MonitorEvent{
		Type:       MonitorEventSubmitted,
		ExamRefNo:  examRefNo,
		ExamineeID: examineeID,
		Score:      &score,
		At:         time.Now(),
	})
}

// LivePhases returns the current phase per examinee for the initial snapshot.
func (s *MonitorService) LivePhases(ctx context.Context, examRefNo string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, config.CacheKey.ExamLivePhasesKey(examRefNo)).Result()
}

func (s *MonitorService) publish(ctx context.Context, event MonitorEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("Monitor event marshal failed")
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(event.ExamRefNo)
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_ref_no", event.ExamRefNo).Msg("Monitor publish failed")
	}
}
