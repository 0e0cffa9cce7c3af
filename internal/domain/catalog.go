package domain

// Offering describes a premium endpoint's payment instructions and the
// deterministic data payload it unlocks once paid.
type Offering struct {
	Endpoint       EndpointTag
	Amount         string
	Currency       string
	FacilitatorURL string
	Payload        map[string]any
}

// Catalog is the closed set of premium endpoints the Request Coordinator
// knows how to seed and fulfil. It never fabricates or stores
// client-specific data.
var Catalog = map[EndpointTag]Offering{
	"market": {
		Endpoint:       "market",
		Amount:         "0.05",
		Currency:       "USDC",
		FacilitatorURL: "https://facilitator.example/x402/market",
		Payload: map[string]any{
			"prices":           map[string]any{"SOL": 142.17, "USDC": 1.0},
			"arbitrageSignals": []string{"SOL/USDC spread 0.3% on venue A"},
			"sentiment":        "neutral",
		},
	},
	"knowledge": {
		Endpoint:       "knowledge",
		Amount:         "0.03",
		Currency:       "CASH",
		FacilitatorURL: "https://facilitator.example/x402/knowledge",
		Payload: map[string]any{
			"summary":   "weekly protocol digest",
			"citations": []string{"doc-1", "doc-2"},
		},
	},
}

// Lookup returns the offering for an endpoint tag, or false if the endpoint
// is not in the catalog.
func Lookup(endpoint EndpointTag) (Offering, bool) {
	o, ok := Catalog[endpoint]
	return o, ok
}
