package currency

// Reporting is the currency every stored amount is expressed in.
const Reporting = "EUR"

// staticRates is EUR per 1 unit of the source currency. It is the only
// hardcoded FX contract and is used whenever the live feed is unavailable.
var staticRates = map[string]float64{
	"EUR": 1,
	"USD": 0.92,
	"GBP": 1.17,
	"CHF": 1.04,
	"SEK": 0.087,
	"DKK": 0.134,
	"NOK": 0.085,
	"PLN": 0.23,
	"CZK": 0.04,
	"HUF": 0.0025,
	"RON": 0.2,
	"CAD": 0.68,
	"AUD": 0.61,
	"NZD": 0.56,
	"JPY": 0.0062,
	"CNY": 0.13,
	"INR": 0.011,
	"BRL": 0.18,
	"MXN": 0.054,
	"TRY": 0.028,
	"ZAR": 0.05,
}

// StaticRates returns a copy of the fallback table.
func StaticRates() map[string]float64 {
	out := make(map[string]float64, len(staticRates))
	for k, v := range staticRates {
		out[k] = v
	}
	return out
}
