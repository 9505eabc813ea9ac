package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ElenchusAI/ElenchusLocal/services/llm"
	"github.com/ElenchusAI/ElenchusLocal/services/resilience"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/statestore"
)

// fakeQuestions serves a fixed bank per topic.
type fakeQuestions struct {
	banks map[string][]Question
	calls int
}

func (f *fakeQuestions) ListQuestions(ctx context.Context, topicID string) ([]Question, error) {
	f.calls++
	return f.banks[topicID], nil
}

// fakeLLM replays scripted responses and counts invocations.
type fakeLLM struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("fakeLLM: no scripted response left")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// fakeRepository keeps durable records in memory, keyed like the
// Weaviate repository.
type fakeRepository struct {
	records map[string]*Record
	saves   int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[string]*Record)}
}

func (f *fakeRepository) key(userID, sessionID string) string {
	return userID + "/" + sessionID
}

func (f *fakeRepository) Save(ctx context.Context, record *Record) error {
	f.saves++
	copied := *record
	f.records[f.key(record.UserID, record.SessionID)] = &copied
	return nil
}

func (f *fakeRepository) Get(ctx context.Context, userID, sessionID string) (*Record, bool, error) {
	record, ok := f.records[f.key(userID, sessionID)]
	if !ok {
		return nil, false, nil
	}
	copied := *record
	return &copied, true, nil
}

func (f *fakeRepository) Delete(ctx context.Context, userID, sessionID string) error {
	delete(f.records, f.key(userID, sessionID))
	return nil
}

func judgmentJSON(reply string, score int, hint bool, misconception string) string {
	j := fmt.Sprintf(`{"reply": %q, "score": %d, "hint_given": %v`, reply, score, hint)
	if misconception != "" {
		j += fmt.Sprintf(`, "misconception": %q`, misconception)
	}
	return j + "}"
}

func threeQuestionBank() []Question {
	return []Question{
		{ID: "qa", Text: "What is photosynthesis?", Difficulty: "easy", Type: "recall"},
		{ID: "qb", Text: "Where does the Calvin cycle run?", Difficulty: "medium", Type: "recall"},
		{ID: "qc", Text: "Why do leaves look green?", Difficulty: "medium", Type: "reasoning"},
	}
}

type testRig struct {
	orch      *Orchestrator
	store     *statestore.Store
	llm       *fakeLLM
	questions *fakeQuestions
	records   *fakeRepository
}

func newTestRig(t *testing.T, bank []Question) *testRig {
	t.Helper()

	backend := statestore.NewMemoryBackend()
	t.Cleanup(func() { _ = backend.Close() })
	store := statestore.New(backend)

	client := &fakeLLM{}
	questions := &fakeQuestions{banks: map[string][]Question{"photosynthesis": bank}}
	records := newFakeRepository()

	orch, err := NewOrchestrator(Config{
		Store:     store,
		Questions: questions,
		LLM:       client,
		Records:   records,
		Breakers: resilience.NewRegistry(resilience.BreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Minute,
		}),
		Retry: resilience.RetryPolicy{
			MaxAttempts:     2,
			BaseDelay:       time.Millisecond,
			MaxDelay:        time.Millisecond,
			ExponentialBase: 2,
		},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return &testRig{orch: orch, store: store, llm: client, questions: questions, records: records}
}

func (r *testRig) record(t *testing.T, userID, sessionID string) *Record {
	t.Helper()
	record, found, err := r.records.Get(context.Background(), userID, sessionID)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if !found {
		return nil
	}
	return record
}

func (r *testRig) state(t *testing.T, userID, sessionID string) *ConversationState {
	t.Helper()
	var state ConversationState
	found, err := r.store.Get(context.Background(), stateKey(userID, sessionID), &state)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !found {
		return nil
	}
	return &state
}

// TestHandleTurnEmptyTopic verifies that a topic with no questions
// signals NoQuestionsAvailableError and leaves no ephemeral state.
func TestHandleTurnEmptyTopic(t *testing.T) {
	rig := newTestRig(t, nil)

	_, err := rig.orch.HandleTurn(context.Background(), "u1", "s1", "photosynthesis", "hello")
	var noQuestions *NoQuestionsAvailableError
	if !errors.As(err, &noQuestions) {
		t.Fatalf("expected NoQuestionsAvailableError, got %v", err)
	}
	if noQuestions.TopicID != "photosynthesis" {
		t.Errorf("error names wrong topic: %q", noQuestions.TopicID)
	}
	if rig.state(t, "u1", "s1") != nil {
		t.Error("ephemeral state was created despite the empty topic")
	}
	if rig.llm.calls != 0 {
		t.Errorf("LLM was invoked %d times for an empty topic", rig.llm.calls)
	}
}

// TestHandleTurnSelectsNextUnanswered verifies question selection:
// with qa answered, qb becomes current and qc is previewed as next.
func TestHandleTurnSelectsNextUnanswered(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	ctx := context.Background()

	// Advance past qa.
	rig.llm.responses = []string{judgmentJSON("Right! [NEXT_QUESTION]", 4, false, "")}
	if _, err := rig.orch.HandleTurn(ctx, "u1", "s1", "photosynthesis", "plants make food from light"); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	state := rig.state(t, "u1", "s1")
	if state == nil {
		t.Fatal("no state after first turn")
	}
	if len(state.AnsweredQuestionIDs) != 1 || state.AnsweredQuestionIDs[0] != "qa" {
		t.Fatalf("answered ids after first turn: %v", state.AnsweredQuestionIDs)
	}

	unanswered := state.Unanswered()
	if len(unanswered) != 2 {
		t.Fatalf("unanswered count: %d", len(unanswered))
	}
	if unanswered[0].ID != "qb" || unanswered[1].ID != "qc" {
		t.Errorf("selection order wrong: current=%s next=%s", unanswered[0].ID, unanswered[1].ID)
	}
}

// TestHandleTurnAdvanceSplicesNextQuestion verifies the sentinel is
// replaced by the next question's text in the user-facing reply.
func TestHandleTurnAdvanceSplicesNextQuestion(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	rig.llm.responses = []string{judgmentJSON("Exactly right. [NEXT_QUESTION]", 5, false, "")}

	reply, err := rig.orch.HandleTurn(context.Background(), "u1", "s1", "photosynthesis", "light to sugar")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if strings.Contains(reply, "[NEXT_QUESTION]") {
		t.Error("sentinel leaked into the user-facing reply")
	}
	if !strings.Contains(reply, "Where does the Calvin cycle run?") {
		t.Errorf("next question not spliced in: %q", reply)
	}

	state := rig.state(t, "u1", "s1")
	if len(state.ScoreHistory) != 1 || state.ScoreHistory[0] != 5 {
		t.Errorf("score not recorded: %v", state.ScoreHistory)
	}
}

// TestHandleTurnAdvanceFinalQuestionSplicesCompletion verifies the
// sentinel is replaced by the completion message when the advanced
// question was the last one in the topic.
func TestHandleTurnAdvanceFinalQuestionSplicesCompletion(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	ctx := context.Background()

	state := &ConversationState{
		SessionID:           "s1",
		UserID:              "u1",
		TopicID:             "photosynthesis",
		Questions:           threeQuestionBank(),
		AnsweredQuestionIDs: []string{"qa", "qb"},
		ScoreHistory:        []int{4, 4},
		TurnCount:           4,
		StartedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if err := rig.store.Put(ctx, stateKey("u1", "s1"), state, time.Hour); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	rig.llm.responses = []string{judgmentJSON("Spot on. [NEXT_QUESTION]", 5, false, "")}
	reply, err := rig.orch.HandleTurn(ctx, "u1", "s1", "photosynthesis", "chlorophyll reflects green light")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if strings.Contains(reply, "[NEXT_QUESTION]") {
		t.Error("sentinel leaked into the user-facing reply")
	}
	if !strings.Contains(reply, "That was the last question") {
		t.Errorf("completion message not spliced in: %q", reply)
	}

	updated := rig.state(t, "u1", "s1")
	if len(updated.AnsweredQuestionIDs) != 3 {
		t.Errorf("answered ids = %v, want all three", updated.AnsweredQuestionIDs)
	}
	if len(updated.Unanswered()) != 0 {
		t.Errorf("questions still unanswered: %v", updated.Unanswered())
	}
}

// TestHandleTurnNoSentinelRetainsQuestion verifies an insufficient
// answer keeps the same question current and records hint bookkeeping.
func TestHandleTurnNoSentinelRetainsQuestion(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	rig.llm.responses = []string{judgmentJSON("Not quite. Think about what the plant consumes.", 1, true, "confuses respiration with photosynthesis")}

	if _, err := rig.orch.HandleTurn(context.Background(), "u1", "s1", "photosynthesis", "plants breathe"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	state := rig.state(t, "u1", "s1")
	if len(state.AnsweredQuestionIDs) != 0 {
		t.Errorf("question was advanced on an insufficient answer: %v", state.AnsweredQuestionIDs)
	}
	if state.HintsGiven != 1 {
		t.Errorf("hints_given = %d, want 1", state.HintsGiven)
	}
	if state.LastMisconception() != "confuses respiration with photosynthesis" {
		t.Errorf("misconception not recorded: %v", state.Misconceptions)
	}
	if state.TurnCount != 1 {
		t.Errorf("turn_count = %d, want 1", state.TurnCount)
	}
	if unanswered := state.Unanswered(); unanswered[0].ID != "qa" {
		t.Errorf("current question changed: %s", unanswered[0].ID)
	}
}

// TestHandleTurnCompletedQueueSkipsLLM verifies a fully answered
// session returns a completion reply without invoking the model.
func TestHandleTurnCompletedQueueSkipsLLM(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	ctx := context.Background()

	state := &ConversationState{
		SessionID:           "s1",
		UserID:              "u1",
		TopicID:             "photosynthesis",
		Questions:           threeQuestionBank(),
		AnsweredQuestionIDs: []string{"qa", "qb", "qc"},
		ScoreHistory:        []int{3, 4, 5},
		TurnCount:           6,
		StartedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if err := rig.store.Put(ctx, stateKey("u1", "s1"), state, time.Hour); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	reply, err := rig.orch.HandleTurn(ctx, "u1", "s1", "photosynthesis", "anything else?")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if rig.llm.calls != 0 {
		t.Errorf("LLM invoked %d times on a completed queue", rig.llm.calls)
	}
	if !strings.Contains(reply, "every question") {
		t.Errorf("unexpected completion reply: %q", reply)
	}
}

// TestHandleTurnMalformedOutputDegrades verifies unparseable model
// output yields an apology, not an error, and still persists state.
func TestHandleTurnMalformedOutputDegrades(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	rig.llm.responses = []string{"Sure! Here's my feedback: great answer."}

	reply, err := rig.orch.HandleTurn(context.Background(), "u1", "s1", "photosynthesis", "light to sugar")
	if err != nil {
		t.Fatalf("malformed output should not fail the turn: %v", err)
	}
	if reply != apologyReply {
		t.Errorf("expected the apology reply, got %q", reply)
	}

	state := rig.state(t, "u1", "s1")
	if state == nil {
		t.Fatal("state was not persisted on the degraded path")
	}
	if state.TurnCount != 1 {
		t.Errorf("turn_count = %d, want 1", state.TurnCount)
	}
	if len(state.AnsweredQuestionIDs) != 0 {
		t.Errorf("question advanced on malformed output: %v", state.AnsweredQuestionIDs)
	}
}

// TestHandleTurnBlankFirstInputPosesQuestion verifies the handshake
// turn poses the first question without consulting the LLM.
func TestHandleTurnBlankFirstInputPosesQuestion(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())

	reply, err := rig.orch.HandleTurn(context.Background(), "u1", "s1", "photosynthesis", "")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if rig.llm.calls != 0 {
		t.Errorf("LLM invoked on the handshake turn")
	}
	if !strings.Contains(reply, "What is photosynthesis?") {
		t.Errorf("opening reply missing first question: %q", reply)
	}
}

// TestHandleTurnPropagatesLLMFailure verifies retry exhaustion
// surfaces as RetryExhaustedError rather than a degraded reply.
func TestHandleTurnPropagatesLLMFailure(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	rig.llm.err = errors.New("upstream timeout")

	_, err := rig.orch.HandleTurn(context.Background(), "u1", "s1", "photosynthesis", "light to sugar")
	var exhausted *resilience.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if rig.llm.calls != 2 {
		t.Errorf("LLM invoked %d times, want 2 (retry budget)", rig.llm.calls)
	}
}

// TestStartConversation verifies session minting: a fresh id, an
// opening reply with the first question, and persisted state.
func TestStartConversation(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())

	sessionID, reply, err := rig.orch.StartConversation(context.Background(), "u1", "photosynthesis", true)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if sessionID == "" {
		t.Fatal("empty session id")
	}
	if !strings.Contains(reply, "What is photosynthesis?") {
		t.Errorf("opening reply missing first question: %q", reply)
	}

	state := rig.state(t, "u1", sessionID)
	if state == nil {
		t.Fatal("no state persisted for the new session")
	}
	if !state.LearningMode {
		t.Error("learning mode flag not carried into state")
	}
	if rig.llm.calls != 0 {
		t.Error("LLM invoked during session start")
	}
}

// TestEndSessionComputesSummary verifies analytics and deletion:
// scores [3,4,5] yield 4.0 and 80 percent, then state is cleared.
func TestEndSessionComputesSummary(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	ctx := context.Background()

	state := &ConversationState{
		SessionID:           "s1",
		UserID:              "u1",
		TopicID:             "photosynthesis",
		Questions:           threeQuestionBank(),
		AnsweredQuestionIDs: []string{"qa", "qb", "qc"},
		ScoreHistory:        []int{3, 4, 5},
		StartedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
	if err := rig.store.Put(ctx, stateKey("u1", "s1"), state, time.Hour); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	summary, err := rig.orch.EndSession(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if summary.FinalScore != 4.0 {
		t.Errorf("final score = %v, want 4.0", summary.FinalScore)
	}
	if summary.PercentageScore != 80 {
		t.Errorf("percentage = %d, want 80", summary.PercentageScore)
	}
	if summary.QuestionsAnswered != 3 || summary.TotalQuestions != 3 {
		t.Errorf("counts = %d/%d, want 3/3", summary.QuestionsAnswered, summary.TotalQuestions)
	}
	if rig.state(t, "u1", "s1") != nil {
		t.Error("ephemeral state still present after EndSession")
	}
}

// TestDurableRecordTurnStates walks a session through its lifecycle and
// verifies the durable record mirrors each transition:
// AWAITING_INITIAL_ANSWER after the opening, AWAITING_FOLLOW_UP after a
// retained turn, AWAITING_NEXT_ACTION after an advance, and an end
// timestamp once the session closes.
func TestDurableRecordTurnStates(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())
	ctx := context.Background()

	sessionID, _, err := rig.orch.StartConversation(ctx, "u1", "photosynthesis", false)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	record := rig.record(t, "u1", sessionID)
	if record == nil {
		t.Fatal("no durable record after session start")
	}
	if record.TurnState != AwaitingInitialAnswer {
		t.Errorf("turn state after start = %s, want %s", record.TurnState, AwaitingInitialAnswer)
	}
	if record.CurrentQuestionIndex != 0 {
		t.Errorf("question index after start = %d, want 0", record.CurrentQuestionIndex)
	}
	if len(record.QuestionIDs) != 3 || record.QuestionIDs[0] != "qa" {
		t.Errorf("question ids not captured: %v", record.QuestionIDs)
	}

	// Insufficient answer: same question stays current.
	rig.llm.responses = []string{judgmentJSON("Not quite, think about the inputs.", 1, true, "")}
	if _, err := rig.orch.HandleTurn(ctx, "u1", sessionID, "photosynthesis", "plants eat dirt"); err != nil {
		t.Fatalf("retained turn failed: %v", err)
	}
	record = rig.record(t, "u1", sessionID)
	if record.TurnState != AwaitingFollowUp {
		t.Errorf("turn state after retained turn = %s, want %s", record.TurnState, AwaitingFollowUp)
	}
	if record.CurrentQuestionIndex != 0 || len(record.Scores) != 0 {
		t.Errorf("retained turn moved progress: index=%d scores=%v", record.CurrentQuestionIndex, record.Scores)
	}

	// Sufficient answer: qa is scored and the session moves on.
	rig.llm.responses = []string{judgmentJSON("Exactly. [NEXT_QUESTION]", 4, false, "")}
	if _, err := rig.orch.HandleTurn(ctx, "u1", sessionID, "photosynthesis", "light, water and CO2 into sugar"); err != nil {
		t.Fatalf("advancing turn failed: %v", err)
	}
	record = rig.record(t, "u1", sessionID)
	if record.TurnState != AwaitingNextAction {
		t.Errorf("turn state after advance = %s, want %s", record.TurnState, AwaitingNextAction)
	}
	if record.CurrentQuestionIndex != 1 {
		t.Errorf("question index after advance = %d, want 1", record.CurrentQuestionIndex)
	}
	if record.Scores["qa"] != 4 {
		t.Errorf("score for qa = %d, want 4 (scores=%v)", record.Scores["qa"], record.Scores)
	}
	if record.EndedAt != nil {
		t.Error("record marked ended mid-session")
	}

	if _, err := rig.orch.EndSession(ctx, "u1", sessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	record = rig.record(t, "u1", sessionID)
	if record == nil {
		t.Fatal("durable record deleted at session end")
	}
	if record.EndedAt == nil {
		t.Error("end timestamp not stamped on the durable record")
	}
}

// TestEndSessionAbsentState verifies ending an expired or never-started
// session yields a zeroed summary without error.
func TestEndSessionAbsentState(t *testing.T) {
	rig := newTestRig(t, threeQuestionBank())

	summary, err := rig.orch.EndSession(context.Background(), "u1", "never-started")
	if err != nil {
		t.Fatalf("EndSession on absent state errored: %v", err)
	}
	if summary.FinalScore != 0.0 || summary.QuestionsAnswered != 0 || summary.PercentageScore != 0 {
		t.Errorf("expected zeroed summary, got %+v", summary)
	}
}
