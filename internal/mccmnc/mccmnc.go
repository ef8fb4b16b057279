package mccmnc

import (
	"encoding/json"
	"os"
	"sync"
)

// NetworkOperator represents an entry in mcc_mnc.json
type NetworkOperator struct {
	MCC         string `json:"mcc"`
	MNC         string `json:"mnc"`
	ISO         string `json:"iso"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Name        string `json:"name"`
}

var (
	mu        sync.RWMutex
	operators = map[string]NetworkOperator{}
)

// LoadOperators loads the mcc_mnc.json file
func LoadOperators(path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var ops []NetworkOperator
	if err := json.Unmarshal(file, &ops); err != nil {
		return err
	}
	Register(ops...)
	return nil
}

// Register adds operators to the lookup table, replacing entries with the same code.
func Register(ops ...NetworkOperator) {
	mu.Lock()
	defer mu.Unlock()
	for _, op := range ops {
		operators[op.MCC+op.MNC] = op
	}
}

// GetOperatorName finds the operator name for a given MCC and MNC
func GetOperatorName(mcc, mnc string) string {
	mu.RLock()
	defer mu.RUnlock()
	return operators[mcc+mnc].Name
}

// Lookup resolves a combined PLMN code such as "72405". Unknown codes give "".
func Lookup(plmn string) string {
	if len(plmn) < 5 {
		return ""
	}
	return GetOperatorName(plmn[:3], plmn[3:])
}
