package config

import (
	"time"

	"github.com/loykin/stackvisor/internal/process"
	"github.com/loykin/stackvisor/internal/step"
)

// DefaultProcesses is the demo stack: model API, dashboard and tracking UI.
func DefaultProcesses() []process.Spec {
	return []process.Spec{
		{
			Name:          "api",
			Args:          []string{"uvicorn", "src.api:app", "--host", "${BIND_HOST}", "--port", "8000"},
			RestartOnExit: true,
			StartDelay:    2 * time.Second,
		},
		{
			Name:          "dashboard",
			Args:          []string{"streamlit", "run", "src/streamlit_app.py", "--server.address", "${BIND_HOST}", "--server.port", "8501"},
			RestartOnExit: true,
			StartDelay:    5 * time.Second,
		},
		{
			Name:       "tracking",
			Args:       []string{"mlflow", "ui", "--host", "${BIND_HOST}", "--port", "5000"},
			StartDelay: 3 * time.Second,
		},
	}
}

// DefaultWorkflowProcesses are launched only with workflow.enabled.
func DefaultWorkflowProcesses() []process.Spec {
	return []process.Spec{
		{
			Name:          "airflow-webserver",
			Args:          []string{"airflow", "webserver", "--hostname", "${BIND_HOST}", "--port", "8080"},
			RestartOnExit: true,
		},
		{
			Name:          "airflow-scheduler",
			Args:          []string{"airflow", "scheduler"},
			RestartOnExit: true,
		},
	}
}

// DefaultSteps train and register the model, then run monitoring.
func DefaultSteps() []step.Spec {
	return []step.Spec{
		{Name: "train", Args: []string{"python", "src/api.py"}},
		{Name: "monitoring", Args: []string{"python", "src/neptuneai_monitoring.py"}},
	}
}
