package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/study"
)

// questionView is a question without its answer.
type questionView struct {
	ID         string           `json:"id"`
	PartType   study.PartType   `json:"part_type"`
	Content    string           `json:"content"`
	Options    []string         `json:"options"`
	Difficulty study.Difficulty `json:"difficulty"`
	Index      int              `json:"index"`
	Total      int              `json:"total"`
}

type sessionView struct {
	Session study.StudySession `json:"session"`
	Phase   string             `json:"phase"`
	Index   int                `json:"index"`
	Total   int                `json:"total"`
}

func viewSession(e *session.Engine) sessionView {
	idx, total := e.Position()
	return sessionView{Session: e.Session(), Phase: e.Phase().String(), Index: idx, Total: total}
}

type startRequest struct {
	UserID        string `json:"user_id"`
	PartType      string `json:"part_type"`
	QuestionCount int    `json:"question_count"`
	Difficulty    string `json:"difficulty,omitempty"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	part, err := study.ParsePartType(req.PartType)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var diff *study.Difficulty
	if req.Difficulty != "" {
		if diff, err = study.ParseDifficulty(req.Difficulty); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}

	e, err := s.opts.Sessions.Start(r.Context(), session.StartRequest{
		UserID:        req.UserID,
		PartType:      part,
		QuestionCount: req.QuestionCount,
		Difficulty:    diff,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.register(e)
	writeJSON(w, http.StatusCreated, viewSession(e))
}

// withEngine resolves the {id} path parameter to a running session.
func (s *Server) withEngine(w http.ResponseWriter, r *http.Request) (*session.Engine, bool) {
	id := chi.URLParam(r, "id")
	e, ok := s.engine(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no running session "+id)
		return nil, false
	}
	return e, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewSession(e))
}

func (s *Server) currentQuestion(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	q, err := e.CurrentQuestion()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	idx, total := e.Position()
	writeJSON(w, http.StatusOK, questionView{
		ID:         q.ID,
		PartType:   q.PartType,
		Content:    q.Content,
		Options:    q.Options,
		Difficulty: q.Difficulty,
		Index:      idx,
		Total:      total,
	})
}

type answerRequest struct {
	Answer      string `json:"answer"`
	TimeTakenMS int64  `json:"time_taken_ms,omitempty"`
}

type answerResponse struct {
	Correct            bool   `json:"correct"`
	CorrectAnswer      string `json:"correct_answer"`
	Explanation        string `json:"explanation,omitempty"`
	Buffered           bool   `json:"buffered"`
	ConsecutiveCorrect int    `json:"consecutive_correct"`
	Remaining          int    `json:"remaining"`
}

func (s *Server) submitAnswer(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req.TimeTakenMS < 0 {
		s.writeErr(w, r, &study.ValidationError{Field: "time_taken_ms", Reason: "must not be negative"})
		return
	}

	sub, err := e.SubmitAnswer(r.Context(), req.Answer, time.Duration(req.TimeTakenMS)*time.Millisecond)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Correct:            sub.Correct,
		CorrectAnswer:      sub.CorrectAnswer,
		Explanation:        sub.Explanation,
		Buffered:           sub.Buffered,
		ConsecutiveCorrect: sub.ConsecutiveCorrect,
		Remaining:          sub.Remaining,
	})
}

type resultResponse struct {
	Session     study.StudySession `json:"session"`
	Score       float64            `json:"score"`
	Accuracy    float64            `json:"accuracy"`
	TotalTimeMS int64              `json:"total_time_ms"`
	Answered    int                `json:"answered"`
	Buffered    bool               `json:"buffered"`
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	s.finish(w, r, (*session.Engine).Complete)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	s.finish(w, r, (*session.Engine).EndEarly)
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, fn func(*session.Engine, context.Context) (session.StudyResult, error)) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	res, err := fn(e, r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.release(res.Session.ID)
	writeJSON(w, http.StatusOK, resultResponse{
		Session:     res.Session,
		Score:       res.Score,
		Accuracy:    res.Accuracy,
		TotalTimeMS: res.TotalTime.Milliseconds(),
		Answered:    len(res.Answers),
		Buffered:    res.Buffered,
	})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	sum, err := s.opts.Reconciler.Reconcile(r.Context())
	if err != nil && !study.IsUnavailable(err) {
		s.writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"attempted":       sum.Attempted,
		"succeeded":       sum.Succeeded,
		"failed":          sum.Failed,
		"sessions_pushed": sum.SessionsPushed,
		"sessions_failed": sum.SessionsFailed,
	})
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Reconciler.Status(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) weeklyStats(w http.ResponseWriter, r *http.Request) {
	def := study.WeekStart(s.opts.Stats.Today())
	weekStart, err := queryDay(r, "week_start", study.DateLayout, def)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	st, err := s.opts.Stats.WeeklyStats(r.Context(), chi.URLParam(r, "userID"), weekStart)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) monthlyStats(w http.ResponseWriter, r *http.Request) {
	month, err := queryDay(r, "month", "2006-01", s.opts.Stats.Today())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	st, err := s.opts.Stats.MonthlyStats(r.Context(), chi.URLParam(r, "userID"), month)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) recentSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	recent, err := s.opts.Stats.RecentSessions(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) progressRange(w http.ResponseWriter, r *http.Request) {
	today := s.opts.Stats.Today()
	from, err := queryDay(r, "from", study.DateLayout, today.AddDate(0, 0, -6))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	to, err := queryDay(r, "to", study.DateLayout, today.AddDate(0, 0, 1))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	rows, err := s.opts.Stats.ProgressRange(r.Context(), chi.URLParam(r, "userID"), from, to)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": rows})
}
