package models

import "time"

type ModelType string
type ModelStatus string

const (
	ModelTypeCredit ModelType = "credit"
	ModelTypeFraud  ModelType = "fraud"

	ModelStatusLoading ModelStatus = "loading"
	ModelStatusReady   ModelStatus = "ready"
	ModelStatusError   ModelStatus = "error"
)

func ParseModelType(s string) (ModelType, error) {
	switch ModelType(s) {
	case ModelTypeCredit, ModelTypeFraud:
		return ModelType(s), nil
	case "credit-score", "credit_score":
		return ModelTypeCredit, nil
	case "fraud-detection", "fraud_detection":
		return ModelTypeFraud, nil
	}
	return "", &InputError{Field: "modelType", Reason: "must be credit or fraud"}
}

// ModelInfo is the registry view of a loaded artifact.
type ModelInfo struct {
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	Type        ModelType          `json:"type"`
	Status      ModelStatus        `json:"status"`
	Path        string             `json:"path"`
	InputSize   int                `json:"inputSize"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Error       string             `json:"error,omitempty"`
	Metrics     *EvaluationMetrics `json:"metrics,omitempty"`
}

type RegressionMetrics struct {
	MSE      float64 `json:"mse" bson:"mse" yaml:"mse"`
	MAE      float64 `json:"mae" bson:"mae" yaml:"mae"`
	R2       float64 `json:"r2" bson:"r2" yaml:"r2"`
	Accuracy float64 `json:"accuracy" bson:"accuracy" yaml:"accuracy"`
}

type ClassificationMetrics struct {
	Accuracy  float64 `json:"accuracy" bson:"accuracy"`
	Precision float64 `json:"precision" bson:"precision"`
	Recall    float64 `json:"recall" bson:"recall"`
	F1        float64 `json:"f1" bson:"f1"`
	AUC       float64 `json:"auc" bson:"auc"`
	Threshold float64 `json:"threshold" bson:"threshold"`
}

type EvaluationMetrics struct {
	Samples        int                    `json:"samples" bson:"samples"`
	Regression     *RegressionMetrics     `json:"regression,omitempty" bson:"regression,omitempty"`
	Classification *ClassificationMetrics `json:"classification,omitempty" bson:"classification,omitempty"`
	EvaluatedAt    time.Time              `json:"evaluatedAt" bson:"evaluated_at"`
}

// TrainingDataset is a feature matrix with one label per row.
type TrainingDataset struct {
	Features   [][]float64 `json:"features"`
	Labels     []float64   `json:"labels"`
	SplitRatio float64     `json:"splitRatio"`
}

func (d TrainingDataset) Len() int { return len(d.Labels) }

type TrainingStatus string

const (
	TrainingStatusSucceeded TrainingStatus = "succeeded"
	TrainingStatusFailed    TrainingStatus = "failed"
)

// TrainingRun is the durable log entry of one trainer invocation.
type TrainingRun struct {
	ID           string             `json:"id" bson:"_id"`
	ModelName    string             `json:"modelName" bson:"model_name"`
	Type         ModelType          `json:"type" bson:"type"`
	Version      string             `json:"version" bson:"version"`
	ArtifactPath string             `json:"artifactPath" bson:"artifact_path"`
	Status       TrainingStatus     `json:"status" bson:"status"`
	Error        string             `json:"error,omitempty" bson:"error,omitempty"`
	Samples      int                `json:"samples" bson:"samples"`
	Epochs       int                `json:"epochs" bson:"epochs"`
	Seed         int64              `json:"seed" bson:"seed"`
	FinalLoss    float64            `json:"finalLoss" bson:"final_loss"`
	Metrics      *EvaluationMetrics `json:"metrics,omitempty" bson:"metrics,omitempty"`
	StartedAt    time.Time          `json:"startedAt" bson:"started_at"`
	FinishedAt   time.Time          `json:"finishedAt" bson:"finished_at"`
}
