package environment

import (
	"fmt"
	"strings"

	"k8s.io/utils/clock"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
	"github.com/G-Research/indexab/internal/common/indexaberrors"
	"github.com/G-Research/indexab/internal/common/logging"
	"github.com/G-Research/indexab/internal/optimiser/db"
	"github.com/G-Research/indexab/internal/optimiser/metrics"
	"github.com/G-Research/indexab/internal/optimiser/model"
)

// Manager creates and destroys the isolated environments strategies are tested in.
type Manager interface {
	// Create provisions the environment called name. Failure is returned as an ErrEnvironmentCreation.
	Create(ctx *indexabcontext.Context, name string) (*model.TestEnvironment, error)
	// Delete releases the environment called name. Failure is reported in the outcome and never returned.
	Delete(ctx *indexabcontext.Context, name string) model.CleanupOutcome
}

// Name returns the name of the environment a job uses for the strategy with the given label, e.g. indexab_01gk..._a.
func Name(prefix, jobId, label string) string {
	return strings.ToLower(fmt.Sprintf("%s_%s_%s", prefix, jobId, label))
}

// ServiceManager provisions environments as isolated copies on a db.Service.
type ServiceManager struct {
	service db.Service
	clock   clock.PassiveClock
}

func NewServiceManager(service db.Service, clock clock.PassiveClock) *ServiceManager {
	return &ServiceManager{
		service: service,
		clock:   clock,
	}
}

func (m *ServiceManager) Create(ctx *indexabcontext.Context, name string) (*model.TestEnvironment, error) {
	ctx = indexabcontext.WithLogField(ctx, "environment", name)
	handle, err := m.service.CreateIsolatedCopy(ctx, name)
	metrics.RecordEnvironmentOperation(metrics.OperationCreate, err)
	if err != nil {
		return nil, &indexaberrors.ErrEnvironmentCreation{Environment: name, Cause: err}
	}
	ctx.Log.Info("Environment created")
	return &model.TestEnvironment{
		Name:      name,
		Handle:    handle,
		CreatedAt: m.clock.Now(),
		Live:      true,
	}, nil
}

func (m *ServiceManager) Delete(ctx *indexabcontext.Context, name string) model.CleanupOutcome {
	ctx = indexabcontext.WithLogField(ctx, "environment", name)
	err := m.service.DeleteIsolatedCopy(ctx, name)
	metrics.RecordEnvironmentOperation(metrics.OperationDelete, err)
	if err != nil {
		err = &indexaberrors.ErrCleanup{Resource: name, Cause: err}
		logging.WithStacktrace(ctx.Log, err).Warn("Failed to delete environment")
		return model.CleanupOutcome{
			Environment: name,
			Status:      model.CleanupStatusFailed,
			Detail:      err.Error(),
		}
	}
	ctx.Log.Info("Environment deleted")
	return model.CleanupOutcome{
		Environment: name,
		Status:      model.CleanupStatusDeleted,
	}
}
