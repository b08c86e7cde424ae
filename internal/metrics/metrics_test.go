// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStepOutcomeIncrementsCounter(t *testing.T) {
	Reset()

	ObserveStepOutcome("basic_provisioning", "discover_hardware", OutcomeCompleted, 2*time.Second)

	got := testutil.ToFloat64(stepOutcomes.WithLabelValues("basic_provisioning", "discover_hardware", OutcomeCompleted))
	if got != 1 {
		t.Fatalf("expected step outcome counter at 1, got %v", got)
	}
}

func TestObserveStepOutcomeSanitizesLabels(t *testing.T) {
	Reset()

	ObserveStepOutcome("", "weird step/name", OutcomeFailed, time.Second)

	got := testutil.ToFloat64(stepOutcomes.WithLabelValues("unknown", "weird_step_name", OutcomeFailed))
	if got != 1 {
		t.Fatalf("expected sanitized-label counter at 1, got %v", got)
	}
}

func TestIncStepRetryIncrementsCounter(t *testing.T) {
	Reset()

	IncStepRetry("firmware_first", "firmware_update_batch")
	IncStepRetry("firmware_first", "firmware_update_batch")

	got := testutil.ToFloat64(stepRetries.WithLabelValues("firmware_first", "firmware_update_batch"))
	if got != 2 {
		t.Fatalf("expected retry counter at 2, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	Reset()
	ObserveStepOutcome("ipmi_only", "setup_ipmi", OutcomeCompleted, time.Millisecond)

	if Handler() == nil {
		t.Fatalf("expected a non-nil metrics handler")
	}
}
