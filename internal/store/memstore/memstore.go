// Package memstore is an in-process implementation of every repository interface.
// It backs tests and the single-instance memory driver.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
)

// Store holds all entities behind one mutex.
type Store struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*models.User
	meetings  map[uuid.UUID]*models.Meeting
	sessions  map[uuid.UUID]*models.ParticipantSession
	alerts    []*models.Alert
	joins     map[uuid.UUID]*models.JoinRequest
	locks     map[uuid.UUID]*models.LockRequest
	quizzes   map[uuid.UUID]*models.Quiz
	responses map[uuid.UUID][]*models.QuizResponse // by quiz
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     map[uuid.UUID]*models.User{},
		meetings:  map[uuid.UUID]*models.Meeting{},
		sessions:  map[uuid.UUID]*models.ParticipantSession{},
		joins:     map[uuid.UUID]*models.JoinRequest{},
		locks:     map[uuid.UUID]*models.LockRequest{},
		quizzes:   map[uuid.UUID]*models.Quiz{},
		responses: map[uuid.UUID][]*models.QuizResponse{},
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copySession(s *models.ParticipantSession) *models.ParticipantSession {
	c := *s
	c.LeftAt = copyTime(s.LeftAt)
	c.AlertBreakdown = make(map[string]int, len(s.AlertBreakdown))
	for k, v := range s.AlertBreakdown {
		c.AlertBreakdown[k] = v
	}
	return &c
}

func copyMeeting(m *models.Meeting) *models.Meeting {
	c := *m
	c.ScheduledAt = copyTime(m.ScheduledAt)
	c.StartedAt = copyTime(m.StartedAt)
	c.EndedAt = copyTime(m.EndedAt)
	return &c
}

func copyQuiz(q *models.Quiz) *models.Quiz {
	c := *q
	c.Options = append([]string(nil), q.Options...)
	c.StartedAt = copyTime(q.StartedAt)
	c.EndedAt = copyTime(q.EndedAt)
	return &c
}

func copyJoin(r *models.JoinRequest) *models.JoinRequest {
	c := *r
	c.RespondedAt = copyTime(r.RespondedAt)
	return &c
}

func copyLock(r *models.LockRequest) *models.LockRequest {
	c := *r
	c.RespondedAt = copyTime(r.RespondedAt)
	return &c
}

// Users

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	c := *u
	return &c, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperr.Conflict("", "email already registered")
		}
	}
	c := *u
	s.users[u.ID] = &c
	return nil
}

// Meetings

func (s *Store) CreateMeeting(_ context.Context, m *models.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.meetings {
		if existing.JoinCode == m.JoinCode || existing.RoomName == m.RoomName {
			return apperr.Conflict("", "join code or room name taken")
		}
	}
	s.meetings[m.ID] = copyMeeting(m)
	return nil
}

func (s *Store) GetMeeting(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting")
	}
	return copyMeeting(m), nil
}

func (s *Store) GetMeetingByJoinCode(_ context.Context, code string) (*models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.meetings {
		if m.JoinCode == code {
			return copyMeeting(m), nil
		}
	}
	return nil, apperr.NotFound("meeting")
}

func (s *Store) MeetingStatus(_ context.Context, id uuid.UUID) (models.MeetingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return "", apperr.NotFound("meeting")
	}
	return m.Status, nil
}

func (s *Store) UpdateMeetingStatus(_ context.Context, id uuid.UUID, from, to models.MeetingStatus, at time.Time) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting")
	}
	if m.Status != from {
		return nil, apperr.Conflict("", "meeting status changed")
	}
	m.Status = to
	switch to {
	case models.MeetingLive:
		if m.StartedAt == nil {
			m.StartedAt = copyTime(&at)
		}
	case models.MeetingEnded:
		m.EndedAt = copyTime(&at)
	}
	return copyMeeting(m), nil
}

func (s *Store) SetMeetingLocked(_ context.Context, id uuid.UUID, locked bool) (*models.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, apperr.NotFound("meeting")
	}
	m.IsLocked = locked
	return copyMeeting(m), nil
}

func (s *Store) ListMeetingsByTutor(_ context.Context, tutorID uuid.UUID) ([]models.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.Meeting{}
	for _, m := range s.meetings {
		if m.TutorID == tutorID {
			list = append(list, *copyMeeting(m))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// Sessions

func (s *Store) FindActiveSession(_ context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ps := s.activeSessionLocked(meetingID, participantID); ps != nil {
		return copySession(ps), nil
	}
	return nil, nil
}

func (s *Store) activeSessionLocked(meetingID, participantID uuid.UUID) *models.ParticipantSession {
	for _, ps := range s.sessions {
		if ps.MeetingID == meetingID && ps.ParticipantID == participantID && ps.Status == models.SessionActive {
			return ps
		}
	}
	return nil
}

func (s *Store) CreateSession(_ context.Context, ps *models.ParticipantSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[ps.MeetingID]; !ok {
		return apperr.NotFound("meeting")
	}
	if s.activeSessionLocked(ps.MeetingID, ps.ParticipantID) != nil {
		return apperr.Conflict("", "participant already has an active session")
	}
	s.sessions[ps.ID] = copySession(ps)
	return nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*models.ParticipantSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session")
	}
	return copySession(ps), nil
}

func (s *Store) CloseActiveSession(_ context.Context, id uuid.UUID, at time.Time, status models.SessionStatus) (*models.ParticipantSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session")
	}
	if ps.Status == models.SessionActive {
		ps.Close(at, status)
	}
	return copySession(ps), nil
}

func (s *Store) ListSessions(_ context.Context, meetingID uuid.UUID, status models.SessionStatus) ([]models.ParticipantSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.ParticipantSession{}
	for _, ps := range s.sessions {
		if ps.MeetingID != meetingID || (status != "" && ps.Status != status) {
			continue
		}
		list = append(list, *copySession(ps))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.Before(list[j].JoinedAt) })
	return list, nil
}

// Alerts

func (s *Store) RecordAlert(_ context.Context, sessionID uuid.UUID, build func(*models.ParticipantSession) (*models.Alert, error)) (*models.Alert, *models.ParticipantSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, apperr.NotFound("session")
	}
	work := copySession(ps)
	a, err := build(work)
	if err != nil {
		return nil, nil, err
	}
	s.sessions[sessionID] = work
	stored := *a
	s.alerts = append(s.alerts, &stored)
	return a, copySession(work), nil
}

func (s *Store) ListAlerts(_ context.Context, f models.AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.Alert{}
	for _, a := range s.alerts {
		if a.MeetingID != f.MeetingID {
			continue
		}
		if f.ParticipantID != nil && a.ParticipantID != *f.ParticipantID {
			continue
		}
		if f.SessionID != nil && a.SessionID != *f.SessionID {
			continue
		}
		if f.Since != nil && a.DetectedAt.Before(*f.Since) {
			continue
		}
		list = append(list, *a)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].DetectedAt.After(list[j].DetectedAt) })
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

// Join requests

func (s *Store) FindPendingJoinRequest(_ context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.joins {
		if r.MeetingID == meetingID && r.StudentID == studentID && r.Status == models.RequestPending {
			return copyJoin(r), nil
		}
	}
	return nil, nil
}

func (s *Store) LatestJoinRequest(_ context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.JoinRequest
	for _, r := range s.joins {
		if r.MeetingID == meetingID && r.StudentID == studentID && (latest == nil || r.RequestedAt.After(latest.RequestedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyJoin(latest), nil
}

func (s *Store) CreateJoinRequest(_ context.Context, req *models.JoinRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.joins {
		if r.MeetingID == req.MeetingID && r.StudentID == req.StudentID && r.Status == models.RequestPending {
			return apperr.Conflict("", "join request already pending")
		}
	}
	s.joins[req.ID] = copyJoin(req)
	return nil
}

func (s *Store) GetJoinRequest(_ context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.joins[id]
	if !ok {
		return nil, apperr.NotFound("join request")
	}
	return copyJoin(r), nil
}

func (s *Store) ResolveJoinRequest(_ context.Context, id uuid.UUID, status models.RequestStatus, at time.Time) (*models.JoinRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.joins[id]
	if !ok {
		return nil, apperr.NotFound("join request")
	}
	if r.Status != models.RequestPending {
		return nil, apperr.Conflict(apperr.ReasonAlreadyResolved, "join request already resolved")
	}
	r.Status = status
	r.RespondedAt = copyTime(&at)
	return copyJoin(r), nil
}

func (s *Store) ListJoinRequests(_ context.Context, meetingID uuid.UUID, status models.RequestStatus) ([]models.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.JoinRequest{}
	for _, r := range s.joins {
		if r.MeetingID == meetingID && (status == "" || r.Status == status) {
			list = append(list, *copyJoin(r))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RequestedAt.Before(list[j].RequestedAt) })
	return list, nil
}

// Lock requests

func (s *Store) FindPendingLockRequest(_ context.Context, meetingID, studentID uuid.UUID) (*models.LockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.locks {
		if r.MeetingID == meetingID && r.StudentID == studentID && r.Status == models.RequestPending {
			return copyLock(r), nil
		}
	}
	return nil, nil
}

func (s *Store) LatestLockRequest(_ context.Context, meetingID, studentID uuid.UUID) (*models.LockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.LockRequest
	for _, r := range s.locks {
		if r.MeetingID == meetingID && r.StudentID == studentID && (latest == nil || r.RequestedAt.After(latest.RequestedAt)) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyLock(latest), nil
}

func (s *Store) CreateLockRequest(_ context.Context, req *models.LockRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.locks {
		if r.MeetingID == req.MeetingID && r.StudentID == req.StudentID && r.Status == models.RequestPending {
			return apperr.Conflict("", "lock request already pending")
		}
	}
	s.locks[req.ID] = copyLock(req)
	return nil
}

func (s *Store) GetLockRequest(_ context.Context, id uuid.UUID) (*models.LockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.locks[id]
	if !ok {
		return nil, apperr.NotFound("lock request")
	}
	return copyLock(r), nil
}

func (s *Store) ResolveLockRequest(_ context.Context, id uuid.UUID, status models.RequestStatus, tutorResponse string, at time.Time) (*models.LockRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.locks[id]
	if !ok {
		return nil, apperr.NotFound("lock request")
	}
	if r.Status != models.RequestPending {
		return nil, apperr.Conflict(apperr.ReasonAlreadyResolved, "lock request already resolved")
	}
	r.Status = status
	r.TutorResponse = tutorResponse
	r.RespondedAt = copyTime(&at)
	return copyLock(r), nil
}

func (s *Store) ListLockRequests(_ context.Context, meetingID uuid.UUID, status models.RequestStatus) ([]models.LockRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.LockRequest{}
	for _, r := range s.locks {
		if r.MeetingID == meetingID && (status == "" || r.Status == status) {
			list = append(list, *copyLock(r))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RequestedAt.Before(list[j].RequestedAt) })
	return list, nil
}

// Quizzes

func (s *Store) activeQuizLocked(meetingID uuid.UUID) *models.Quiz {
	for _, q := range s.quizzes {
		if q.MeetingID == meetingID && q.Status == models.QuizActive {
			return q
		}
	}
	return nil
}

func completeLocked(q *models.Quiz, at time.Time) {
	q.Status = models.QuizCompleted
	q.EndedAt = copyTime(&at)
}

func (s *Store) ReplaceActiveQuiz(_ context.Context, q *models.Quiz, at time.Time) (*models.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[q.MeetingID]; !ok {
		return nil, apperr.NotFound("meeting")
	}
	var completed *models.Quiz
	if prev := s.activeQuizLocked(q.MeetingID); prev != nil {
		completeLocked(prev, at)
		completed = copyQuiz(prev)
	}
	s.quizzes[q.ID] = copyQuiz(q)
	return completed, nil
}

func (s *Store) GetQuiz(_ context.Context, id uuid.UUID) (*models.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[id]
	if !ok {
		return nil, apperr.NotFound("quiz")
	}
	return copyQuiz(q), nil
}

func (s *Store) ActiveQuiz(_ context.Context, meetingID uuid.UUID) (*models.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q := s.activeQuizLocked(meetingID); q != nil {
		return copyQuiz(q), nil
	}
	return nil, nil
}

func (s *Store) CompleteQuiz(_ context.Context, id uuid.UUID, at time.Time) (*models.Quiz, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[id]
	if !ok {
		return nil, false, apperr.NotFound("quiz")
	}
	if q.Status != models.QuizActive {
		return copyQuiz(q), false, nil
	}
	completeLocked(q, at)
	return copyQuiz(q), true, nil
}

func (s *Store) CompleteActiveQuiz(_ context.Context, meetingID uuid.UUID, at time.Time) (*models.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.activeQuizLocked(meetingID)
	if q == nil {
		return nil, nil
	}
	completeLocked(q, at)
	return copyQuiz(q), nil
}

func (s *Store) ListQuizzes(_ context.Context, meetingID uuid.UUID) ([]models.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.Quiz{}
	for _, q := range s.quizzes {
		if q.MeetingID == meetingID {
			list = append(list, *copyQuiz(q))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *Store) ListExpiredQuizzes(_ context.Context, now time.Time) ([]models.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.Quiz{}
	for _, q := range s.quizzes {
		if q.Status == models.QuizActive && q.StartedAt != nil && !q.Deadline().After(now) {
			list = append(list, *copyQuiz(q))
		}
	}
	return list, nil
}

func (s *Store) CreateQuizResponse(_ context.Context, r *models.QuizResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[r.QuizID]
	if !ok {
		return apperr.NotFound("quiz")
	}
	for _, existing := range s.responses[r.QuizID] {
		if existing.ParticipantID == r.ParticipantID {
			return apperr.Conflict(apperr.ReasonAlreadyAnswered, "participant already answered this quiz")
		}
	}
	if q.Status != models.QuizActive {
		return apperr.InvalidState(apperr.ReasonQuizNotActive, "quiz is not active")
	}
	c := *r
	s.responses[r.QuizID] = append(s.responses[r.QuizID], &c)
	return nil
}

func (s *Store) CountQuizResponses(_ context.Context, quizID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.responses[quizID]), nil
}

func (s *Store) ListQuizResponses(_ context.Context, quizID uuid.UUID) ([]models.QuizResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.QuizResponse, 0, len(s.responses[quizID]))
	for _, r := range s.responses[quizID] {
		list = append(list, *r)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].SubmittedAt.Before(list[j].SubmittedAt) })
	return list, nil
}

func (s *Store) ListMeetingResponses(_ context.Context, meetingID uuid.UUID) ([]models.QuizResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.QuizResponse{}
	for quizID, rs := range s.responses {
		q, ok := s.quizzes[quizID]
		if !ok || q.MeetingID != meetingID {
			continue
		}
		for _, r := range rs {
			list = append(list, *r)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].SubmittedAt.Before(list[j].SubmittedAt) })
	return list, nil
}
