package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/logger"
	"beacon/internal/notify"
	"beacon/internal/rules"
	"beacon/pkg/metrics"
)

type fakeRuleStore struct {
	mu    sync.Mutex
	rules []rules.Rule
}

func (s *fakeRuleStore) FindActive(_ context.Context, sourceType rules.SourceType) ([]rules.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []rules.Rule
	for _, r := range s.rules {
		if r.IsActive && r.SourceType == sourceType {
			result = append(result, r)
		}
	}
	return result, nil
}

// ClaimTrigger mirrors the conditional update the Postgres store runs.
func (s *fakeRuleStore) ClaimTrigger(_ context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		if s.rules[i].ID != ruleID || !s.rules[i].IsActive {
			continue
		}
		if last := s.rules[i].LastTriggeredAt; last != nil && now.Sub(*last) < cooldown {
			return false, nil
		}
		t := now
		s.rules[i].LastTriggeredAt = &t
		return true, nil
	}
	return false, nil
}

type fakeAlertRepo struct {
	mu       sync.Mutex
	alerts   []AlertEvent
	nextID   int
	failFor  string
	autoTask map[string]bool
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{autoTask: map[string]bool{}}
}

func (r *fakeAlertRepo) Create(_ context.Context, alert *AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failFor != "" && alert.RuleID == r.failFor {
		return fmt.Errorf("insert failed")
	}
	r.nextID++
	alert.ID = fmt.Sprintf("alert-%d", r.nextID)
	alert.CreatedAt = time.Now()
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *fakeAlertRepo) SetAutoTaskCreated(_ context.Context, alertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoTask[alertID] = true
	return nil
}

func (r *fakeAlertRepo) List(context.Context, AlertFilter) ([]AlertEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEvent(nil), r.alerts...), nil
}

func (r *fakeAlertRepo) Get(context.Context, string) (*AlertEvent, error) {
	return nil, fmt.Errorf("alert not found")
}

type fakeTaskRepo struct {
	mu        sync.Mutex
	tasks     []Task
	links     []TaskAlertLink
	nextID    int
	createErr error
}

func (r *fakeTaskRepo) Create(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	task.ID = fmt.Sprintf("task-%d", r.nextID)
	task.CreatedAt = time.Now()
	r.tasks = append(r.tasks, *task)
	return nil
}

func (r *fakeTaskRepo) CreateLink(_ context.Context, link *TaskAlertLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link.CreatedAt = time.Now()
	r.links = append(r.links, *link)
	return nil
}

func (r *fakeTaskRepo) GetLinkByAlert(_ context.Context, alertID string) (*TaskAlertLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.AlertID == alertID {
			link := l
			return &link, nil
		}
	}
	return nil, nil
}

type fakeClientDirectory struct {
	clients map[int64]Client
}

func (d *fakeClientDirectory) Get(_ context.Context, id int64) (*Client, error) {
	if c, ok := d.clients[id]; ok {
		return &c, nil
	}
	return nil, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	inputs []notify.CreateInput
	events []notify.Event
	err    error
}

func (n *fakeNotifier) Dispatch(_ context.Context, input notify.CreateInput) ([]notify.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs = append(n.inputs, input)
	return n.events, n.err
}

func (n *fakeNotifier) List(context.Context, int64, int) ([]notify.Event, error) { return nil, nil }
func (n *fakeNotifier) MarkRead(context.Context, int64, []string) error         { return nil }

func testRule(id string, sourceType rules.SourceType, cond rules.ConditionConfig) rules.Rule {
	return rules.Rule{
		ID:              id,
		Name:            "rule " + id,
		Description:     "description for " + id,
		SourceType:      sourceType,
		Condition:       cond,
		Severity:        rules.SeverityCritical,
		CooldownMinutes: 10,
		NotifyOnTrigger: false,
		IsActive:        true,
	}
}

func newTestEngine(store *fakeRuleStore, alerts *fakeAlertRepo, tasks *fakeTaskRepo, clients *fakeClientDirectory, notifier *fakeNotifier) Engine {
	log := logger.NopLogger()
	materializer := NewTaskMaterializer(tasks, clients, log)
	return NewEngine(store, alerts, materializer, notifier, log)
}

func scanInput(clientID int64) Input {
	return Input{
		SourceType: rules.SourceCompetitiveScan,
		SourceID:   101,
		ClientID:   clientID,
		Data: map[string]interface{}{
			"criticalCount": 3,
			"warningCount":  1,
			"infoCount":     0,
			"totalAlerts":   4,
			"hasCritical":   true,
		},
	}
}

func TestEngine_Evaluate_CreatesAlertOnMatch(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	require.Len(t, result.AlertsCreated, 1)

	alert := result.AlertsCreated[0]
	assert.Equal(t, "competitive_scan_rule", alert.Type)
	assert.Equal(t, rules.SeverityCritical, alert.Severity)
	assert.Equal(t, "rule r1", alert.Title)
	assert.Equal(t, int64(7), alert.ClientID)
	assert.Equal(t, int64(101), alert.SourceID)
	assert.Equal(t, "r1", alert.RuleID)
	assert.Equal(t, 3, alert.Metadata["criticalCount"])
	assert.Empty(t, result.TasksCreated)
	assert.Empty(t, result.NotificationsSent)
}

func TestEngine_Evaluate_SeveritySnapshotSurvivesRuleEdit(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	require.Len(t, result.AlertsCreated, 1)

	// Editing the rule after the fact must not rewrite the persisted alert.
	store.mu.Lock()
	store.rules[0].Severity = rules.SeverityInfo
	store.mu.Unlock()

	stored, err := alerts.List(context.Background(), AlertFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rules.SeverityCritical, stored[0].Severity)
}

func TestEngine_Evaluate_NoMatchCreatesNothing(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "criticalCount", Operator: rules.OpGreaterThan, Value: 10})
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	assert.Empty(t, result.AlertsCreated)
	assert.Nil(t, store.rules[0].LastTriggeredAt)
}

func TestEngine_Evaluate_InactiveRuleNeverEvaluated(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.IsActive = false
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	assert.Empty(t, result.AlertsCreated)
}

func TestEngine_Evaluate_CooldownSuppressesRefire(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	first, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	require.Len(t, first.AlertsCreated, 1)

	// Same payload again inside the 10 minute window.
	second, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	assert.Empty(t, second.AlertsCreated)

	stored, _ := alerts.List(context.Background(), AlertFilter{})
	assert.Len(t, stored, 1)
}

func TestEngine_Evaluate_ZeroCooldownRefiresImmediately(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.CooldownMinutes = 0
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	for i := 0; i < 2; i++ {
		result, err := eng.Evaluate(context.Background(), scanInput(7))
		require.NoError(t, err)
		require.Len(t, result.AlertsCreated, 1)
	}

	stored, _ := alerts.List(context.Background(), AlertFilter{})
	assert.Len(t, stored, 2)
}

func TestEngine_Evaluate_ConcurrentPassesCreateOneAlert(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Evaluate(context.Background(), scanInput(7))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Both passes read a stale trigger timestamp; the conditional claim
	// lets exactly one of them through.
	stored, _ := alerts.List(context.Background(), AlertFilter{})
	assert.Len(t, stored, 1)
}

func TestEngine_Evaluate_MaterializesTask(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.AutoCreateTask = true
	rule.TaskTemplate = &rules.TaskTemplate{Title: "Review {clientName}"}
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()
	tasks := &fakeTaskRepo{}
	clients := &fakeClientDirectory{clients: map[int64]Client{7: {ID: 7, BusinessName: "Acme Co"}}}

	eng := newTestEngine(store, alerts, tasks, clients, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	require.Len(t, result.AlertsCreated, 1)
	require.Len(t, result.TasksCreated, 1)

	task := result.TasksCreated[0]
	assert.Equal(t, "Review Acme Co", task.Title)
	assert.Equal(t, "ops", task.Category)
	assert.Equal(t, "P3", task.Priority)
	assert.Equal(t, "queued", task.Status)
	assert.Equal(t, "alert_rule", task.Source)

	alert := result.AlertsCreated[0]
	assert.True(t, alert.AutoTaskCreated)
	assert.Equal(t, alert.ID, task.SourceAlertID)
	assert.Equal(t, alert.ID, task.Brief["alert_id"])
	assert.Equal(t, "critical", task.Brief["alert_severity"])

	// Round trip through the link back to the same pair.
	link, err := tasks.GetLinkByAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, task.ID, link.TaskID)
	assert.Equal(t, alert.ID, link.AlertID)
}

func TestEngine_Evaluate_TaskSkippedWhenClientMissing(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.AutoCreateTask = true
	rule.TaskTemplate = &rules.TaskTemplate{Title: "Review {clientName}"}
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()
	tasks := &fakeTaskRepo{}

	eng := newTestEngine(store, alerts, tasks, &fakeClientDirectory{}, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	require.Len(t, result.AlertsCreated, 1)
	assert.Empty(t, result.TasksCreated)
	assert.False(t, result.AlertsCreated[0].AutoTaskCreated)
	assert.Empty(t, tasks.links)
}

func TestEngine_Evaluate_NotifiesOnTrigger(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.NotifyOnTrigger = true
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()
	notifier := &fakeNotifier{events: []notify.Event{{UserID: 1}, {UserID: 2}}}

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, notifier)

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.NoError(t, err)
	require.Len(t, result.NotificationsSent, 2)

	require.Len(t, notifier.inputs, 1)
	input := notifier.inputs[0]
	assert.Equal(t, notify.TypeAlert, input.Type)
	assert.Equal(t, "[CRITICAL] rule r1", input.Title)
	assert.Equal(t, "description for r1", input.Body)
	assert.Equal(t, "/clients/7", input.Href)
	require.NotNil(t, input.AlertID)
	assert.Equal(t, result.AlertsCreated[0].ID, *input.AlertID)
}

func TestEngine_Evaluate_GenericHrefWithoutClient(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.NotifyOnTrigger = true
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	notifier := &fakeNotifier{}

	eng := newTestEngine(store, newFakeAlertRepo(), &fakeTaskRepo{}, &fakeClientDirectory{}, notifier)

	_, err := eng.Evaluate(context.Background(), scanInput(0))
	require.NoError(t, err)

	require.Len(t, notifier.inputs, 1)
	assert.Equal(t, "/alerts", notifier.inputs[0].Href)
	assert.Nil(t, notifier.inputs[0].ClientID)
}

func TestEngine_Evaluate_RuleFailureDoesNotAbortOthers(t *testing.T) {
	failing := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	healthy := testRule("r2", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "criticalCount", Operator: rules.OpGreaterThan, Value: 1})
	store := &fakeRuleStore{rules: []rules.Rule{failing, healthy}}
	alerts := newFakeAlertRepo()
	alerts.failFor = "r1"

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.Error(t, err)
	assert.ErrorContains(t, err, "rule r1")

	// The healthy rule still fired.
	require.Len(t, result.AlertsCreated, 1)
	assert.Equal(t, "r2", result.AlertsCreated[0].RuleID)
}

func TestEngine_Evaluate_StageFailureCountsAsTriggeredOnly(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	rule.AutoCreateTask = true
	rule.TaskTemplate = &rules.TaskTemplate{Title: "Review {clientName}"}
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()
	tasks := &fakeTaskRepo{createErr: fmt.Errorf("insert failed")}
	clients := &fakeClientDirectory{clients: map[int64]Client{7: {ID: 7, BusinessName: "Acme Co"}}}

	eng := newTestEngine(store, alerts, tasks, clients, &fakeNotifier{})

	errorBefore := testutil.ToFloat64(metrics.RulesEvaluatedTotal.WithLabelValues("competitive_scan", "error"))
	triggeredBefore := testutil.ToFloat64(metrics.RulesEvaluatedTotal.WithLabelValues("competitive_scan", "triggered"))

	result, err := eng.Evaluate(context.Background(), scanInput(7))
	require.Error(t, err)
	assert.ErrorContains(t, err, "task stage")
	require.Len(t, result.AlertsCreated, 1)

	// The alert persisted, so the rule counts as triggered, not as an
	// evaluation error; outcomes stay summable against evaluations.
	assert.Equal(t, errorBefore, testutil.ToFloat64(metrics.RulesEvaluatedTotal.WithLabelValues("competitive_scan", "error")))
	assert.Equal(t, triggeredBefore+1, testutil.ToFloat64(metrics.RulesEvaluatedTotal.WithLabelValues("competitive_scan", "triggered")))
}

func TestEngine_Evaluate_FailedRuleCountsAsError(t *testing.T) {
	rule := testRule("r1", rules.SourceCompetitiveScan,
		rules.ConditionConfig{Field: "hasCritical", Operator: rules.OpEqual, Value: true})
	store := &fakeRuleStore{rules: []rules.Rule{rule}}
	alerts := newFakeAlertRepo()
	alerts.failFor = "r1"

	eng := newTestEngine(store, alerts, &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	errorBefore := testutil.ToFloat64(metrics.RulesEvaluatedTotal.WithLabelValues("competitive_scan", "error"))

	_, err := eng.Evaluate(context.Background(), scanInput(7))
	require.Error(t, err)

	assert.Equal(t, errorBefore+1, testutil.ToFloat64(metrics.RulesEvaluatedTotal.WithLabelValues("competitive_scan", "error")))
}

func TestEngine_Evaluate_UnknownSourceTypeRejected(t *testing.T) {
	eng := newTestEngine(&fakeRuleStore{}, newFakeAlertRepo(), &fakeTaskRepo{}, &fakeClientDirectory{}, &fakeNotifier{})

	_, err := eng.Evaluate(context.Background(), Input{SourceType: "billing"})
	assert.Error(t, err)
}
