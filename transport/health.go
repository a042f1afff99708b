/*
Copyright 2024 Derrick J. Wippler

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

package transport

// HealthStatus represents the overall health status
type HealthStatus string

// severity orders statuses from healthy to failing
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusPass:
		return 0
	case HealthStatusWarn:
		return 1
	default:
		return 2
	}
}

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusWarn HealthStatus = "warn"
	HealthStatusFail HealthStatus = "fail"
)

// HealthResponse represents the RFC Health Check response format
// (draft-inadarei-api-health-check-06)
type HealthResponse struct {
	Status      HealthStatus       `json:"status"`
	Version     string             `json:"version,omitempty"`
	ReleaseID   string             `json:"releaseId,omitempty"`
	Notes       []string           `json:"notes,omitempty"`
	Output      string             `json:"output,omitempty"`
	Checks      map[string][]Check `json:"checks,omitempty"`
	Links       map[string]string  `json:"links,omitempty"`
	ServiceID   string             `json:"serviceId,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Check represents a component health check
type Check struct {
	ComponentID   string       `json:"componentId,omitempty"`
	ComponentType string       `json:"componentType,omitempty"`
	Status        HealthStatus `json:"status"`
	Time          string       `json:"time,omitempty"`
	Output        string       `json:"output,omitempty"`
}

// WorstStatus returns the least healthy status of all the checks, pass if there are none
func WorstStatus(checks map[string][]Check) HealthStatus {
	worst := HealthStatusPass
	for _, list := range checks {
		for _, c := range list {
			if c.Status.severity() > worst.severity() {
				worst = c.Status
			}
		}
	}
	return worst
}
