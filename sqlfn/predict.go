package sqlfn

import "github.com/dbsqldef/docql/fleece"

// Predictor is a registered prediction model, invoked by fl_predict
// with the Binary-Doc-decoded parameter dict spec.md §4.4's
// PREDICTION(modelName, input) operator passes. Hosts register models
// by name on Env.Predictors before opening a Data-File. Translation
// fails for a model with no predictive index on the collection;
// fl_predict returns a Binary-Doc null for a model name that is not
// registered here.
type Predictor interface {
	Predict(input fleece.Value) (fleece.Value, error)
}

// PredictorFunc adapts a plain function to the Predictor interface.
type PredictorFunc func(fleece.Value) (fleece.Value, error)

func (f PredictorFunc) Predict(input fleece.Value) (fleece.Value, error) { return f(input) }

// FlPredict implements fl_predict(modelName, inputBody). It looks up
// modelName in Env.Predictors, decodes inputBody as a Binary-Doc
// value, runs the model, and returns the Binary-Doc encoding of the
// result, or a Binary-Doc null if no such model is registered.
func (e *Env) FlPredict(modelName string, inputBody []byte) ([]byte, error) {
	model, ok := e.Predictors[modelName]
	if !ok {
		return fleece.Encode(fleece.Null), nil
	}
	scope := e.scope(inputBody)
	defer scope.Close()
	input, err := fleece.Parse(inputBody, scope)
	if err != nil {
		return nil, err
	}
	out, err := model.Predict(input)
	if err != nil {
		return nil, err
	}
	return fleece.Encode(out), nil
}
