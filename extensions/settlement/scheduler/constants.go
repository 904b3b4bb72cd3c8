package scheduler

import "github.com/questchain/node/internal/config"

// DefaultPollSchedule checks pending transactions every 30 seconds.
const DefaultPollSchedule = config.DefaultPollSchedule

// MaxTransactionsPerRun limits the rows a single run examines
const MaxTransactionsPerRun = 100
