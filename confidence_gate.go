package upocr

// ConfidenceScore reads the document confidence from resp. A nil score means the
// backend did not report one.
func ConfidenceScore(resp *OCRResponse, schema Schema) (*float64, error) {
	ex, err := schema.extractor()
	if err != nil {
		return nil, err
	}
	return ex.confidence(resp.Raw)
}

// Accept passes resp through when its score is at least threshold, or when there is no score.
func Accept(resp *OCRResponse, schema Schema, threshold float64) (*OCRResponse, error) {
	if _, err := gate(resp, schema, threshold); err != nil {
		return nil, err
	}
	return resp, nil
}

func gate(resp *OCRResponse, schema Schema, threshold float64) (*float64, error) {
	score, err := ConfidenceScore(resp, schema)
	if err != nil {
		return nil, err
	}
	if score != nil && *score < threshold {
		return score, &RejectedError{Confidence: *score, Threshold: threshold}
	}
	return score, nil
}
