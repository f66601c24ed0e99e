package imports

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/czue/commcare-connect/pkg/task"
	"github.com/czue/commcare-connect/services/opportunity"
)

// importBatchSize limits how many record keys go into a single IN clause.
const importBatchSize = 100

// Service implements the bulk reconciliation importers. Each importer parses
// an uploaded spreadsheet, validates every row before touching the database,
// and applies the whole file inside one transaction.
type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	accrual  *opportunity.Service
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Accrual  *opportunity.Service
	Enqueuer task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		accrual:  p.Accrual,
		enqueuer: p.Enqueuer,
	}
}

var Module = fx.Module("imports.service",
	fx.Provide(NewService),
)
