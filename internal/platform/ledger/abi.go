package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// evaluationSystemABI covers the subset of the EvaluationSystem contract used
// here: the trader index, the two storage mappings, the payable purchase and
// the lifecycle events.
const evaluationSystemABI = `[
  {"type":"function","name":"getTraderEvaluations","stateMutability":"view",
   "inputs":[{"name":"trader","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"evaluations","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"evaluationId","type":"uint256"},
     {"name":"trader","type":"address"},
     {"name":"initialBalance","type":"uint256"},
     {"name":"targetProfit","type":"uint256"},
     {"name":"maxLoss","type":"uint256"},
     {"name":"startTime","type":"uint256"},
     {"name":"endTime","type":"uint256"},
     {"name":"currentBalance","type":"uint256"},
     {"name":"isActive","type":"bool"},
     {"name":"isCompleted","type":"bool"},
     {"name":"isPassed","type":"bool"},
     {"name":"evaluationType","type":"string"}]},
  {"type":"function","name":"evaluationTypes","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"price","type":"uint256"},
     {"name":"duration","type":"uint256"},
     {"name":"targetProfit","type":"uint256"},
     {"name":"maxLoss","type":"uint256"},
     {"name":"initialBalance","type":"uint256"},
     {"name":"isActive","type":"bool"}]},
  {"type":"function","name":"startEvaluation","stateMutability":"payable",
   "inputs":[{"name":"evaluationTypeId","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"EvaluationCreated","anonymous":false,
   "inputs":[
     {"name":"evaluationId","type":"uint256","indexed":true},
     {"name":"trader","type":"address","indexed":true},
     {"name":"evaluationTypeId","type":"uint256","indexed":false}]},
  {"type":"event","name":"EvaluationCompleted","anonymous":false,
   "inputs":[
     {"name":"evaluationId","type":"uint256","indexed":true},
     {"name":"trader","type":"address","indexed":true},
     {"name":"passed","type":"bool","indexed":false}]}
]`

// parseABI parses the embedded contract ABI.
func parseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(evaluationSystemABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ledger/abi: parse: %w", err)
	}
	return parsed, nil
}
