package notebook

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/smithy-go"
)

// sagemakerIface is the subset of the sagemaker client we use.
type sagemakerIface interface {
	DescribeNotebookInstance(ctx context.Context, params *sagemaker.DescribeNotebookInstanceInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeNotebookInstanceOutput, error)
	StartNotebookInstance(ctx context.Context, params *sagemaker.StartNotebookInstanceInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StartNotebookInstanceOutput, error)
	StopNotebookInstance(ctx context.Context, params *sagemaker.StopNotebookInstanceInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StopNotebookInstanceOutput, error)
}

// SageMakerAPI adapts the AWS client to the orchestrator's API.
type SageMakerAPI struct {
	client sagemakerIface
}

func NewSageMakerAPI(client *sagemaker.Client) *SageMakerAPI {
	return &SageMakerAPI{client: client}
}

func (a *SageMakerAPI) Describe(ctx context.Context, name string) (Status, error) {
	out, err := a.client.DescribeNotebookInstance(ctx, &sagemaker.DescribeNotebookInstanceInput{
		NotebookInstanceName: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return StatusUnknown, ErrNotFound
		}
		return StatusUnknown, err
	}
	return ParseStatus(string(out.NotebookInstanceStatus)), nil
}

func (a *SageMakerAPI) Start(ctx context.Context, name string) error {
	_, err := a.client.StartNotebookInstance(ctx, &sagemaker.StartNotebookInstanceInput{
		NotebookInstanceName: aws.String(name),
	})
	return err
}

func (a *SageMakerAPI) Stop(ctx context.Context, name string) error {
	_, err := a.client.StopNotebookInstance(ctx, &sagemaker.StopNotebookInstanceInput{
		NotebookInstanceName: aws.String(name),
	})
	return err
}

// isNotFound matches the service's missing-instance errors.
// DescribeNotebookInstance has no typed not-found error in its model;
// a missing instance surfaces as a ValidationException whose message
// carries "RecordNotFound" (or "does not exist" on some API versions),
// so the message still has to be inspected after unwrapping the API error.
func isNotFound(err error) bool {
	msg := err.Error()
	var ae smithy.APIError
	if errors.As(err, &ae) {
		msg = ae.ErrorMessage()
	}
	return strings.Contains(msg, "RecordNotFound") || strings.Contains(msg, "does not exist")
}
