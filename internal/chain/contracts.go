package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs, parsed once at package init. Kept to the fragments the
// orchestrator actually calls or decodes.

const beaconFactoryABIJSON = `[
	{"type":"function","name":"createBeacon","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"BeaconCreated","anonymous":false,
	 "inputs":[{"name":"beacon","type":"address","indexed":false}]}
]`

const beaconRegistryABIJSON = `[
	{"type":"function","name":"registerBeacon","stateMutability":"nonpayable",
	 "inputs":[{"name":"beacon","type":"address"}],"outputs":[]},
	{"type":"function","name":"unregisterBeacon","stateMutability":"nonpayable",
	 "inputs":[{"name":"beacon","type":"address"}],"outputs":[]},
	{"type":"function","name":"beacons","stateMutability":"view",
	 "inputs":[{"name":"beacon","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

const beaconABIJSON = `[
	{"type":"function","name":"getData","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"data","type":"uint256"},{"name":"timestamp","type":"uint256"}]},
	{"type":"function","name":"updateData","stateMutability":"nonpayable",
	 "inputs":[{"name":"proof","type":"bytes"},{"name":"publicSignals","type":"bytes"}],
	 "outputs":[]},
	{"type":"event","name":"DataUpdated","anonymous":false,
	 "inputs":[{"name":"data","type":"uint256","indexed":false}]}
]`

const dichotomousFactoryABIJSON = `[
	{"type":"function","name":"createBeacon","stateMutability":"nonpayable",
	 "inputs":[{"name":"verifier","type":"address"},
	           {"name":"initialData","type":"uint256"},
	           {"name":"initialCardinalityNext","type":"uint32"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"BeaconCreated","anonymous":false,
	 "inputs":[{"name":"beacon","type":"address","indexed":false},
	           {"name":"verifier","type":"address","indexed":false}]}
]`

const stepBeaconABIJSON = `[
	{"type":"function","name":"getData","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"data","type":"uint256"},{"name":"timestamp","type":"uint256"}]},
	{"type":"function","name":"getTwap","stateMutability":"view",
	 "inputs":[{"name":"twapSecondsAgo","type":"uint32"}],
	 "outputs":[{"name":"twapPrice","type":"uint256"}]},
	{"type":"function","name":"increaseCardinalityNext","stateMutability":"nonpayable",
	 "inputs":[{"name":"cardinalityNext","type":"uint32"}],
	 "outputs":[{"name":"cardinalityNextOld","type":"uint32"},
	            {"name":"cardinalityNextNew","type":"uint32"}]}
]`

const ecdsaBeaconABIJSON = `[
	{"type":"function","name":"updateIndex","stateMutability":"nonpayable",
	 "inputs":[{"name":"proof","type":"bytes"},{"name":"inputs","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"verifierAdapter","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"index","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"IndexUpdated","anonymous":false,
	 "inputs":[{"name":"index","type":"uint256","indexed":false}]}
]`

const ecdsaVerifierAdapterABIJSON = `[
	{"type":"function","name":"digest","stateMutability":"view",
	 "inputs":[{"name":"measurement","type":"uint256"},{"name":"nonce","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"domainSeparator","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"SIGNER","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const multicall3ABIJSON = `[
	{"type":"function","name":"aggregate3","stateMutability":"payable",
	 "inputs":[{"name":"calls","type":"tuple[]","components":[
		{"name":"target","type":"address"},
		{"name":"allowFailure","type":"bool"},
		{"name":"callData","type":"bytes"}]}],
	 "outputs":[{"name":"returnData","type":"tuple[]","components":[
		{"name":"success","type":"bool"},
		{"name":"returnData","type":"bytes"}]}]}
]`

const perpManagerABIJSON = `[
	{"type":"function","name":"createPerp","stateMutability":"nonpayable",
	 "inputs":[{"name":"params","type":"tuple","components":[
		{"name":"beacon","type":"address"},
		{"name":"tradingFee","type":"uint24"},
		{"name":"minMargin","type":"uint128"},
		{"name":"maxMargin","type":"uint128"},
		{"name":"minOpeningLeverageX96","type":"uint128"},
		{"name":"maxOpeningLeverageX96","type":"uint128"},
		{"name":"liquidationLeverageX96","type":"uint128"},
		{"name":"liquidationFeeX96","type":"uint128"},
		{"name":"liquidationFeeSplitX96","type":"uint128"},
		{"name":"fundingInterval","type":"int128"},
		{"name":"tickSpacing","type":"int24"},
		{"name":"startingSqrtPriceX96","type":"uint160"}]}],
	 "outputs":[{"name":"perpId","type":"bytes32"}]},
	{"type":"event","name":"PerpCreated","anonymous":false,
	 "inputs":[{"name":"perpId","type":"bytes32","indexed":false},
	           {"name":"beacon","type":"address","indexed":false},
	           {"name":"sqrtPriceX96","type":"uint256","indexed":false},
	           {"name":"indexPriceX96","type":"uint256","indexed":false}]},
	{"type":"function","name":"perps","stateMutability":"view",
	 "inputs":[{"name":"perpId","type":"bytes32"}],
	 "outputs":[{"name":"","type":"tuple","components":[
		{"name":"beacon","type":"address"},
		{"name":"fees","type":"address"},
		{"name":"marginRatios","type":"address"},
		{"name":"lockupPeriod","type":"address"},
		{"name":"sqrtPriceImpactLimit","type":"address"}]}]},
	{"type":"function","name":"openMakerPos","stateMutability":"nonpayable",
	 "inputs":[{"name":"perpId","type":"bytes32"},
	           {"name":"params","type":"tuple","components":[
		{"name":"holder","type":"address"},
		{"name":"margin","type":"uint256"},
		{"name":"liquidity","type":"uint128"},
		{"name":"tickLower","type":"int24"},
		{"name":"tickUpper","type":"int24"},
		{"name":"maxAmt0In","type":"uint128"},
		{"name":"maxAmt1In","type":"uint128"}]}],
	 "outputs":[{"name":"posId","type":"uint256"}]},
	{"type":"event","name":"PositionOpened","anonymous":false,
	 "inputs":[{"name":"perpId","type":"bytes32","indexed":false},
	           {"name":"sqrtPriceX96","type":"uint256","indexed":false},
	           {"name":"longOI","type":"uint256","indexed":false},
	           {"name":"shortOI","type":"uint256","indexed":false},
	           {"name":"posId","type":"uint256","indexed":false},
	           {"name":"isMaker","type":"bool","indexed":false},
	           {"name":"entryPerpDelta","type":"int256","indexed":false}]}
]`

// Parsed ABIs.
var (
	BeaconFactoryABI        abi.ABI
	BeaconRegistryABI       abi.ABI
	BeaconABI               abi.ABI
	DichotomousFactoryABI   abi.ABI
	StepBeaconABI           abi.ABI
	EcdsaBeaconABI          abi.ABI
	EcdsaVerifierAdapterABI abi.ABI
	ERC20ABI                abi.ABI
	Multicall3ABI           abi.ABI
	PerpManagerABI          abi.ABI
)

func init() {
	BeaconFactoryABI = mustParseABI("beacon factory", beaconFactoryABIJSON)
	BeaconRegistryABI = mustParseABI("beacon registry", beaconRegistryABIJSON)
	BeaconABI = mustParseABI("beacon", beaconABIJSON)
	DichotomousFactoryABI = mustParseABI("dichotomous factory", dichotomousFactoryABIJSON)
	StepBeaconABI = mustParseABI("step beacon", stepBeaconABIJSON)
	EcdsaBeaconABI = mustParseABI("ecdsa beacon", ecdsaBeaconABIJSON)
	EcdsaVerifierAdapterABI = mustParseABI("ecdsa verifier adapter", ecdsaVerifierAdapterABIJSON)
	ERC20ABI = mustParseABI("erc20", erc20ABIJSON)
	Multicall3ABI = mustParseABI("multicall3", multicall3ABIJSON)
	PerpManagerABI = mustParseABI("perp manager", perpManagerABIJSON)
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s ABI: %v", name, err))
	}
	return parsed
}
