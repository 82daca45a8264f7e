// Package flow drives the questionnaire sequence a participant walks
// through: pretest, six post-task forms, then the three post-test parts.
// The current step is always derived from stored data, never from a
// persisted cursor, so a reload lands the participant exactly where their
// data says they are.
package flow

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/clipdock/usability/internal/fault"
	"github.com/clipdock/usability/internal/localstore"
	"github.com/clipdock/usability/internal/models"
)

type Step string

const (
	StepPretest          Step = "pretest"
	StepPostTask         Step = "posttask"
	StepPostTestSUS      Step = "posttest-sus"
	StepPostTestNPS      Step = "posttest-nps"
	StepPostTestFeedback Step = "posttest-feedback"
	StepDone             Step = "done"
)

// FormType maps a step to the form it collects. Done has no form.
func (s Step) FormType() (models.FormType, bool) {
	switch s {
	case StepPretest:
		return models.FormPretest, true
	case StepPostTask:
		return models.FormPostTask, true
	case StepPostTestSUS:
		return models.FormPostTestSUS, true
	case StepPostTestNPS:
		return models.FormPostTestNPS, true
	case StepPostTestFeedback:
		return models.FormPostTestFeedback, true
	}
	return "", false
}

// CurrentStep derives the next step from what the session already holds.
// Invariant: the posttask sub-step equals the count of stored posttask
// entries; there is no separate pointer to fall out of sync.
func CurrentStep(sess *localstore.LocalSession) Step {
	if sess.Progress.Pretest == nil {
		return StepPretest
	}
	if len(sess.Progress.PostTask) < models.MaxPostTasks {
		return StepPostTask
	}
	if sess.Progress.PostTest.SUS == nil {
		return StepPostTestSUS
	}
	if sess.Progress.PostTest.NPS == nil {
		return StepPostTestNPS
	}
	if sess.Progress.PostTest.Feedback == nil {
		return StepPostTestFeedback
	}
	return StepDone
}

// TaskNumber is the 1-based posttask sub-step shown to the participant.
func TaskNumber(sess *localstore.LocalSession) int {
	n := len(sess.Progress.PostTask) + 1
	if n > models.MaxPostTasks {
		n = models.MaxPostTasks
	}
	return n
}

// Rule is a required-field check written as an expression evaluated against
// the submitted form-data map.
type Rule struct {
	Field      string
	Expression string
	Message    string
}

// ValidationError reports one failed rule for one field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// present requires a non-nil, non-empty value. The string() conversion keeps
// the emptiness check working for numeric answers.
func present(field string) string {
	return fmt.Sprintf("%s != nil && string(%s) != ''", field, field)
}

var rulesByForm = map[models.FormType][]Rule{
	models.FormPretest: {
		{Field: "age", Expression: present("age"), Message: "age range is required"},
		{Field: "experience", Expression: present("experience"), Message: "clipboard-tool experience is required"},
	},
	models.FormPostTask: {
		{Field: "task_success", Expression: present("task_success"), Message: "task outcome is required"},
		{Field: "difficulty", Expression: present("difficulty"), Message: "difficulty rating is required"},
	},
	models.FormPostTestNPS: {
		{Field: "rating", Expression: "rating != nil && int(rating) >= 0 && int(rating) <= 10", Message: "rating must be between 0 and 10"},
	},
	models.FormPostTestFeedback: {
		{Field: "overall", Expression: present("overall"), Message: "overall impression is required"},
	},
}

func init() {
	// posttest-sus requires all ten answers
	rules := make([]Rule, 0, 10)
	for i := 1; i <= 10; i++ {
		field := fmt.Sprintf("q%d", i)
		rules = append(rules, Rule{Field: field, Expression: present(field), Message: "answer is required"})
	}
	rulesByForm[models.FormPostTestSUS] = rules
}

// Validate runs the step's rules against the form data. A rule whose
// expression fails to evaluate counts as a failed check.
func Validate(formType models.FormType, data models.JSONMap) []ValidationError {
	var errs []ValidationError
	for _, rule := range rulesByForm[formType] {
		ok, err := evaluate(rule.Expression, data)
		if err != nil || !ok {
			errs = append(errs, ValidationError{Field: rule.Field, Message: rule.Message})
		}
	}
	return errs
}

func evaluate(expression string, input models.JSONMap) (bool, error) {
	env := map[string]any(input)
	if env == nil {
		env = map[string]any{}
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean")
	}
	return result, nil
}

// SessionStore is what a flow runner needs from the session facade.
type SessionStore interface {
	Get(id string) (*localstore.LocalSession, error)
	SaveFormData(id string, formType models.FormType, data models.JSONMap) (*localstore.LocalSession, error)
	Restore(id string) (*localstore.LocalSession, error)
}

// Resolve loads the session a form page was opened with. A missing ID is a
// hard error sending the participant back to the intake page; an ID with no
// local record is recovered by synthesizing a scaffold session under that
// ID (the record may have been cleared locally while the ID is still valid
// server-side).
func Resolve(store SessionStore, id string) (*localstore.LocalSession, error) {
	if id == "" {
		return nil, fault.NewClientError("session id missing from URL", nil)
	}
	sess, err := store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return store.Restore(id)
	}
	return sess, nil
}

// Advance validates and saves the form for the session's current step, then
// returns the step the participant should see next. Validation failures
// block the save and are returned for inline display.
func Advance(store SessionStore, id string, data models.JSONMap) (Step, []ValidationError, error) {
	sess, err := Resolve(store, id)
	if err != nil {
		return "", nil, err
	}
	step := CurrentStep(sess)
	formType, ok := step.FormType()
	if !ok {
		return StepDone, nil, nil
	}
	if errs := Validate(formType, data); len(errs) > 0 {
		return step, errs, nil
	}
	sess, err = store.SaveFormData(sess.ID, formType, data)
	if err != nil {
		return step, nil, err
	}
	return CurrentStep(sess), nil, nil
}
