package ensemble

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// jsonModel is a serialized additive classifier: one weight vector per class
// plus a bias, consumed the way the engine would consume a distilled
// forest/GBT export (leaf-path weights folded into linear coefficients).
// The engine does not train these; LoadJSONModel only deserializes them.
type jsonModel struct {
	Names      []string  `json:"feature_names"`
	BuyWeights []float64 `json:"buy_weights"`
	BuyBias    float64   `json:"buy_bias"`
	SellWeights []float64 `json:"sell_weights"`
	SellBias    float64   `json:"sell_bias"`
}

func (m *jsonModel) FeatureNames() []string { return m.Names }

func (m *jsonModel) Predict(x []float64) (probBuy, probSell float64) {
	buyScore := dot(m.BuyWeights, x) + m.BuyBias
	sellScore := dot(m.SellWeights, x) + m.SellBias
	return softmaxPair(buyScore, sellScore)
}

func dot(weights, x []float64) float64 {
	n := len(weights)
	if len(x) < n {
		n = len(x)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += weights[i] * x[i]
	}
	return sum
}

// softmaxPair converts two class logits plus an implicit zero-logit HOLD
// class into BUY/SELL probabilities, leaving the remainder as HOLD mass.
func softmaxPair(buyLogit, sellLogit float64) (float64, float64) {
	expBuy := math.Exp(buyLogit)
	expSell := math.Exp(sellLogit)
	expHold := 1.0
	total := expBuy + expSell + expHold
	return expBuy / total, expSell / total
}

// LoadJSONModel reads one artifact's weights from a JSON file. This is the
// I/O suspension point the concurrency model reserves for artifact loading
// at startup (§5); after this returns, the model is immutable.
func LoadJSONModel(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ensemble: reading %s: %w", path, err)
	}
	var m jsonModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ensemble: parsing %s: %w", path, err)
	}
	return &m, nil
}
