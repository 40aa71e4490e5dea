package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) Getenv {
	return func(key string) string {
		return m[key]
	}
}

func TestDestination(t *testing.T) {
	creds := Destination(envMap(map[string]string{
		EnvDestAccessKeyID:     "AKIADEST",
		EnvDestSecretAccessKey: "secret",
		EnvRegion:              "eu-west-1",
		EnvAccessKeyID:         "AKIASOURCE",
	}))

	assert.Equal(t, "AKIADEST", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "eu-west-1", creds.Region)
	assert.True(t, creds.Complete())
}

func TestDestination_Missing(t *testing.T) {
	creds := Destination(envMap(nil))

	assert.False(t, creds.Complete())
	assert.Empty(t, creds.TerraformVars())
	assert.Empty(t, creds.Env())
}

func TestSource_FallsBackToStandardVariables(t *testing.T) {
	creds := Source(envMap(map[string]string{
		EnvAccessKeyID:     "AKIASTD",
		EnvSecretAccessKey: "std-secret",
	}))
	assert.Equal(t, "AKIASTD", creds.AccessKeyID)
	assert.Equal(t, "std-secret", creds.SecretAccessKey)

	creds = Source(envMap(map[string]string{
		EnvSrcAccessKeyID:     "AKIASRC",
		EnvSrcSecretAccessKey: "src-secret",
		EnvAccessKeyID:        "AKIASTD",
	}))
	assert.Equal(t, "AKIASRC", creds.AccessKeyID)
	assert.Equal(t, "src-secret", creds.SecretAccessKey)
}

func TestTerraformVars(t *testing.T) {
	creds := Credentials{AccessKeyID: "id", SecretAccessKey: "key", Region: "us-west-2"}

	assert.Equal(t, []string{
		"-var", "aws_access_key=id",
		"-var", "aws_secret_key=key",
		"-var", "aws_region=us-west-2",
	}, creds.TerraformVars())
}

func TestTerraformVars_OnlyPresentInputs(t *testing.T) {
	creds := Credentials{Region: "us-west-2"}

	assert.Equal(t, []string{"-var", "aws_region=us-west-2"}, creds.TerraformVars())
	assert.Equal(t, map[string]string{EnvRegion: "us-west-2"}, creds.Env())
}

func TestRedacted(t *testing.T) {
	assert.Equal(t, "****WXYZ", Credentials{AccessKeyID: "ABCDWXYZ"}.Redacted())
	assert.Equal(t, "***", Credentials{AccessKeyID: "abc"}.Redacted())
}

type fakeIdentityAPI struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f *fakeIdentityAPI) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
}

func TestCallerIdentity(t *testing.T) {
	api := &fakeIdentityAPI{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:iam::123456789012:user/deployer"),
		UserId:  aws.String("AIDAEXAMPLE"),
	}}

	id, err := CallerIdentity(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Equal(t, "arn:aws:iam::123456789012:user/deployer", id.ARN)
	assert.Equal(t, "AIDAEXAMPLE", id.UserID)
}

func TestCallerIdentity_Error(t *testing.T) {
	api := &fakeIdentityAPI{err: errors.New("denied")}

	_, err := CallerIdentity(context.Background(), api)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNewSTSClient_Incomplete(t *testing.T) {
	_, err := NewSTSClient(context.Background(), Credentials{AccessKeyID: "only-id"}, "us-east-1")
	assert.ErrorIs(t, err, ErrIncomplete)
}
