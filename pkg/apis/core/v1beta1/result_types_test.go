/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1beta1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorstOf(t *testing.T) {
	tests := []struct {
		name   string
		a      Outcome
		b      Outcome
		expect Outcome
	}{
		{
			name:   "cancelled dominates failed",
			a:      OutcomeFailed,
			b:      OutcomeCancelled,
			expect: OutcomeCancelled,
		},
		{
			name:   "failed dominates succeeded",
			a:      OutcomeSucceeded,
			b:      OutcomeFailed,
			expect: OutcomeFailed,
		},
		{
			name:   "succeeded dominates skipped",
			a:      OutcomeSkipped,
			b:      OutcomeSucceeded,
			expect: OutcomeSucceeded,
		},
		{
			name:   "order does not matter",
			a:      OutcomeCancelled,
			b:      OutcomeSucceeded,
			expect: OutcomeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, WorstOf(tt.a, tt.b))
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []StepResult
		expect  Outcome
	}{
		{
			name:    "no results succeeds",
			results: nil,
			expect:  OutcomeSucceeded,
		},
		{
			name: "all succeeded",
			results: []StepResult{
				{Outcome: OutcomeSucceeded},
				{Outcome: OutcomeSkipped},
				{Outcome: OutcomeSucceeded},
			},
			expect: OutcomeSucceeded,
		},
		{
			name: "one failed step fails the job",
			results: []StepResult{
				{Outcome: OutcomeSucceeded},
				{Outcome: OutcomeFailed},
			},
			expect: OutcomeFailed,
		},
		{
			name: "continue-on-error failure is excluded",
			results: []StepResult{
				{Outcome: OutcomeSucceeded},
				{Outcome: OutcomeFailed, ContinueOnError: true},
			},
			expect: OutcomeSucceeded,
		},
		{
			name: "cancelled dominates failed",
			results: []StepResult{
				{Outcome: OutcomeFailed},
				{Outcome: OutcomeCancelled},
			},
			expect: OutcomeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Aggregate(tt.results))
		})
	}
}

func TestStepDepth(t *testing.T) {
	flat := Step{ID: "a", Kind: StepKindScript}
	assert.Equal(t, 0, flat.Depth())

	nested := Step{
		ID:   "root",
		Kind: StepKindCompositeAction,
		Steps: []Step{
			{ID: "child", Kind: StepKindCompositeAction, Steps: []Step{
				{ID: "leaf", Kind: StepKindScript},
			}},
			{ID: "sibling", Kind: StepKindScript},
		},
	}
	assert.Equal(t, 2, nested.Depth())
}
