package domain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a fetched definition before an attempt can use it, and
// normalizes question kinds missing from the payload.
func (t *TestDefinition) Validate() error {
	if err := structValidator().Struct(t); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("invalid test definition: field %s failed %q", ve[0].Namespace(), ve[0].Tag())
		}
		return fmt.Errorf("invalid test definition: %w", err)
	}

	seen := make(map[int64]struct{}, len(t.Questions))
	for i := range t.Questions {
		q := &t.Questions[i]
		if q.Kind == "" {
			q.Kind = SingleChoice
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("invalid test definition: duplicate question %d", q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Kind == SingleChoice && len(q.Options) == 0 {
			return fmt.Errorf("invalid test definition: question %d has no options", q.ID)
		}
	}
	return nil
}
