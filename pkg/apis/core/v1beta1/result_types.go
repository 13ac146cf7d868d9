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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "Succeeded"
	OutcomeFailed    Outcome = "Failed"
	OutcomeCancelled Outcome = "Cancelled"
	OutcomeSkipped   Outcome = "Skipped"
)

// outcomeRank orders outcomes by severity for worst-of aggregation.
// Cancelled dominates Failed dominates Succeeded; Skipped never
// degrades an aggregate.
var outcomeRank = map[Outcome]int{
	OutcomeSkipped:   0,
	OutcomeSucceeded: 1,
	OutcomeFailed:    2,
	OutcomeCancelled: 3,
}

// WorstOf returns the more severe of two outcomes.
func WorstOf(a, b Outcome) Outcome {
	if outcomeRank[b] > outcomeRank[a] {
		return b
	}

	return a
}

// StepResult is produced exactly once per executed (or skipped) step
// and is immutable after creation.
type StepResult struct {
	StepID          string            `json:"stepId"`
	Name            string            `json:"name,omitempty"`
	Outcome         Outcome           `json:"outcome"`
	ExitCode        int               `json:"exitCode,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	ContinueOnError bool              `json:"continueOnError,omitempty"`
	StartedAt       metav1.Time       `json:"startedAt,omitempty"`
	EndedAt         metav1.Time       `json:"endedAt,omitempty"`
	Outputs         map[string]string `json:"outputs,omitempty"`
}

// JobResult aggregates all top-level step results. It is the sole
// artifact the worker writes back across the IPC boundary.
type JobResult struct {
	JobID     string       `json:"jobId"`
	RequestID uint64       `json:"requestId,omitempty"`
	Outcome   Outcome      `json:"outcome"`
	Reason    string       `json:"reason,omitempty"`
	Steps     []StepResult `json:"steps,omitempty"`
}

// Aggregate computes the worst-of outcome over the given step results.
// Steps flagged continue-on-error are excluded; a job with no effective
// results succeeds.
func Aggregate(results []StepResult) Outcome {
	outcome := OutcomeSucceeded

	for _, result := range results {
		if result.ContinueOnError {
			continue
		}

		outcome = WorstOf(outcome, result.Outcome)
	}

	return outcome
}
