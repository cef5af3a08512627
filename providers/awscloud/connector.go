// Package awscloud implements the connector for training on raw EC2 GPU
// instances. Resource and spot pricing come from the EC2 APIs, job control
// maps onto instance lifecycle operations, logs are polled from the console
// output, and artifacts transfer through the job's S3 bucket.
package awscloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"

	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

const platformName = "aws-ec2"

// Tags the bootstrap script writes back onto the instance as training
// progresses.
const (
	tagJob     = "finetune:job"
	tagOutcome = "finetune:outcome" // "success" or "failure", set at training end
)

// gpuInstanceCatalog is the set of instance types offered as training
// resources. On-demand prices are the published rates; spot prices are
// fetched live from the spot price history API.
var gpuInstanceCatalog = []struct {
	InstanceType string
	GPUType      string
	PricePerHour float64
}{
	{"g4dn.xlarge", "T4", 0.526},
	{"g5.xlarge", "A10G", 1.006},
	{"g5.12xlarge", "A10G", 5.672},
	{"p3.2xlarge", "V100", 3.06},
	{"p4d.24xlarge", "A100", 32.77},
}

// Connector runs fine-tuning jobs on EC2. Construction performs no network
// I/O; clients are built on Connect.
type Connector struct {
	region string
	ami    string

	mu            sync.Mutex
	ec2Client     *ec2.Client
	pricingClient *pricing.Client
	artifacts     *artifactStore
	connected     bool
}

// Option overrides connector defaults.
type Option func(*Connector)

// WithAMI overrides the machine image instances boot from.
func WithAMI(ami string) Option {
	return func(c *Connector) { c.ami = ami }
}

// New creates an EC2 connector for one region.
func New(region string, opts ...Option) *Connector {
	c := &Connector{
		region: region,
		ami:    "ami-0c7217cdde317cfec", // Deep Learning AMI, us-east-1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns the static descriptor. Callable before Connect.
func (c *Connector) Platform() models.Platform {
	return models.Platform{
		Name:               platformName,
		DisplayName:        "AWS EC2",
		Capabilities:       []models.Capability{models.CapabilityTraining},
		RequiredCredFields: []string{"access_key_id", "secret_access_key", "artifact_bucket"},
	}
}

// Connect builds the SDK clients from static credentials and verifies them
// with a lightweight describe call.
func (c *Connector) Connect(ctx context.Context, creds models.Credentials) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.region),
		awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(creds["access_key_id"], creds["secret_access_key"], ""),
		),
	)
	if err != nil {
		return &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}

	ec2Client := ec2.NewFromConfig(cfg)
	if _, err := ec2Client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{}); err != nil {
		return classify(err)
	}

	// The price list API is only served out of us-east-1.
	pricingCfg := cfg.Copy()
	pricingCfg.Region = "us-east-1"

	artifacts, err := newArtifactStore(c.region, creds["access_key_id"], creds["secret_access_key"], creds["artifact_bucket"])
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ec2Client = ec2Client
	c.pricingClient = pricing.NewFromConfig(pricingCfg)
	c.artifacts = artifacts
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect drops the SDK clients.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.ec2Client = nil
	c.pricingClient = nil
	c.artifacts = nil
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Connector) clients() (*ec2.Client, *artifactStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, nil, &fterr.NotConnectedError{PlatformName: platformName}
	}
	return c.ec2Client, c.artifacts, nil
}

// classify maps SDK errors onto the shared taxonomy. The SDK wraps API
// error codes in its own types, so matching is by code substring.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AuthFailure"), strings.Contains(msg, "UnauthorizedOperation"),
		strings.Contains(msg, "InvalidClientTokenId"), strings.Contains(msg, "SignatureDoesNotMatch"):
		return &fterr.AuthenticationError{PlatformName: platformName, Reason: msg}
	case strings.Contains(msg, "InvalidInstanceID.NotFound"):
		return &fterr.NotFoundError{Kind: "job", ID: ""}
	case strings.Contains(msg, "InsufficientInstanceCapacity"), strings.Contains(msg, "InstanceLimitExceeded"):
		return &fterr.ProvisioningError{PlatformName: platformName, Reason: msg}
	default:
		return &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
}

// ListResources returns the GPU instance catalog with live spot prices
// merged in. Instance types with no recent spot history report no spot
// price rather than a stale or guessed one.
func (c *Connector) ListResources(ctx context.Context) ([]models.ResourceDescriptor, error) {
	ec2Client, _, err := c.clients()
	if err != nil {
		return nil, err
	}

	spot, err := c.fetchSpotPrices(ctx, ec2Client)
	if err != nil {
		return nil, err
	}

	resources := make([]models.ResourceDescriptor, 0, len(gpuInstanceCatalog))
	for _, entry := range gpuInstanceCatalog {
		descriptor := models.ResourceDescriptor{
			Name:          entry.InstanceType,
			GPUType:       entry.GPUType,
			OnDemandPrice: entry.PricePerHour,
			Available:     true,
		}
		if price, ok := spot[entry.InstanceType]; ok {
			descriptor.SpotPrice = aws.Float64(price)
		}
		resources = append(resources, descriptor)
	}
	return resources, nil
}

// fetchSpotPrices queries the spot price history for all catalog instance
// types and keeps the most recent price per type.
func (c *Connector) fetchSpotPrices(ctx context.Context, ec2Client *ec2.Client) (map[string]float64, error) {
	instanceTypes := make([]ec2types.InstanceType, 0, len(gpuInstanceCatalog))
	for _, entry := range gpuInstanceCatalog {
		instanceTypes = append(instanceTypes, ec2types.InstanceType(entry.InstanceType))
	}

	out, err := ec2Client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       instanceTypes,
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           aws.Time(time.Now().Add(-1 * time.Hour)),
		MaxResults:          aws.Int32(500),
	})
	if err != nil {
		return nil, classify(err)
	}

	latest := make(map[string]time.Time)
	prices := make(map[string]float64)
	for _, record := range out.SpotPriceHistory {
		if record.SpotPrice == nil || record.Timestamp == nil {
			continue
		}
		name := string(record.InstanceType)
		if record.Timestamp.Before(latest[name]) {
			continue
		}
		var price float64
		if _, err := fmt.Sscanf(*record.SpotPrice, "%f", &price); err != nil {
			continue
		}
		latest[name] = *record.Timestamp
		prices[name] = price
	}
	return prices, nil
}

// GetPricing returns on-demand and spot pricing for one instance type. The
// on-demand rate comes from the price list API when reachable; the published
// catalog rate is the fallback.
func (c *Connector) GetPricing(ctx context.Context, resourceName string) (models.Pricing, error) {
	resources, err := c.ListResources(ctx)
	if err != nil {
		return models.Pricing{}, err
	}
	for _, r := range resources {
		if r.Name != resourceName {
			continue
		}
		onDemand := r.OnDemandPrice
		if live, ok := c.fetchOnDemandPrice(ctx, resourceName); ok {
			onDemand = live
		}
		return models.Pricing{
			ResourceName:   resourceName,
			Currency:       "USD",
			OnDemandHourly: onDemand,
			SpotHourly:     r.SpotPrice,
			FetchedAt:      time.Now(),
		}, nil
	}
	return models.Pricing{}, &fterr.NotFoundError{Kind: "resource", ID: resourceName}
}

// fetchOnDemandPrice asks the price list API for the current Linux on-demand
// rate of one instance type. Any failure falls back to the catalog rate.
func (c *Connector) fetchOnDemandPrice(ctx context.Context, instanceType string) (float64, bool) {
	c.mu.Lock()
	client := c.pricingClient
	c.mu.Unlock()
	if client == nil {
		return 0, false
	}

	filter := func(field, value string) pricingtypes.Filter {
		return pricingtypes.Filter{
			Type:  pricingtypes.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(value),
		}
	}
	out, err := client.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		MaxResults:  aws.Int32(1),
		Filters: []pricingtypes.Filter{
			filter("instanceType", instanceType),
			filter("regionCode", c.region),
			filter("operatingSystem", "Linux"),
			filter("tenancy", "Shared"),
			filter("preInstalledSw", "NA"),
			filter("capacitystatus", "Used"),
		},
	})
	if err != nil || len(out.PriceList) == 0 {
		return 0, false
	}
	return parseOnDemandRate(out.PriceList[0])
}

// parseOnDemandRate digs the hourly USD rate out of one price list document.
// The document nests terms under generated SKU keys, so the walk takes the
// first entry at each level.
func parseOnDemandRate(doc string) (float64, bool) {
	var product struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					PricePerUnit struct {
						USD string `json:"USD"`
					} `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(doc), &product); err != nil {
		return 0, false
	}
	for _, term := range product.Terms.OnDemand {
		for _, dimension := range term.PriceDimensions {
			price, err := strconv.ParseFloat(dimension.PricePerUnit.USD, 64)
			if err != nil || price == 0 {
				continue
			}
			return price, true
		}
	}
	return 0, false
}

// SubmitJob launches one instance for the run. The job id is the instance
// id. The training script itself is provisioned externally; the user data
// only carries the job parameters it reads at boot.
func (c *Connector) SubmitJob(ctx context.Context, cfg models.TrainingConfig) (string, error) {
	ec2Client, artifacts, err := c.clients()
	if err != nil {
		return "", err
	}

	known := false
	for _, entry := range gpuInstanceCatalog {
		if entry.InstanceType == cfg.ResourceName {
			known = true
			break
		}
	}
	if !known {
		return "", &fterr.ValidationError{Field: "resource_name", Reason: fmt.Sprintf("unknown instance type %q", cfg.ResourceName)}
	}

	userData := fmt.Sprintf(
		"FT_BASE_MODEL=%s\nFT_ALGORITHM=%s\nFT_RANK=%d\nFT_DATASET=%s\nFT_ARTIFACT_BUCKET=%s\n",
		cfg.BaseModel, cfg.Algorithm, cfg.Rank, cfg.DatasetURI, artifacts.bucket,
	)

	out, err := ec2Client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(c.ami),
		InstanceType: ec2types.InstanceType(cfg.ResourceName),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(userData))),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: aws.String(tagJob), Value: aws.String(cfg.RunName)},
			},
		}},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", &fterr.ProvisioningError{PlatformName: platformName, Reason: "no instance launched"}
	}
	return *out.Instances[0].InstanceId, nil
}

// GetJobStatus maps instance state plus the outcome tag onto the job state
// machine. A stopped or terminated instance without a success outcome is a
// failure.
func (c *Connector) GetJobStatus(ctx context.Context, jobID string) (models.JobState, error) {
	ec2Client, _, err := c.clients()
	if err != nil {
		return "", err
	}

	out, err := ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{jobID},
	})
	if err != nil {
		if strings.Contains(err.Error(), "InvalidInstanceID.NotFound") {
			return "", &fterr.NotFoundError{Kind: "job", ID: jobID}
		}
		return "", classify(err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return "", &fterr.NotFoundError{Kind: "job", ID: jobID}
	}

	instance := out.Reservations[0].Instances[0]
	outcome := ""
	for _, tag := range instance.Tags {
		if tag.Key != nil && *tag.Key == tagOutcome && tag.Value != nil {
			outcome = *tag.Value
		}
	}

	switch instance.State.Name {
	case ec2types.InstanceStateNamePending:
		return models.JobStateProvisioning, nil
	case ec2types.InstanceStateNameRunning:
		return models.JobStateRunning, nil
	case ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameStopping,
		ec2types.InstanceStateNameStopped, ec2types.InstanceStateNameTerminated:
		if outcome == "success" {
			return models.JobStateCompleted, nil
		}
		return models.JobStateFailed, nil
	default:
		return "", fmt.Errorf("instance %s in unexpected state %s", jobID, instance.State.Name)
	}
}

// CancelJob terminates the instance. Terminating an already-terminated
// instance is not an error.
func (c *Connector) CancelJob(ctx context.Context, jobID string) error {
	ec2Client, _, err := c.clients()
	if err != nil {
		return err
	}
	_, err = ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{jobID},
	})
	if err != nil && !strings.Contains(err.Error(), "InvalidInstanceID.NotFound") {
		return classify(err)
	}
	return nil
}

// PollLogs reads the instance console output and returns lines beyond the
// cursor, numbering lines so the cursor stays monotonic across polls.
func (c *Connector) PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error) {
	ec2Client, _, err := c.clients()
	if err != nil {
		return nil, err
	}

	out, err := ec2Client.GetConsoleOutput(ctx, &ec2.GetConsoleOutputInput{
		InstanceId: aws.String(jobID),
	})
	if err != nil {
		if strings.Contains(err.Error(), "InvalidInstanceID.NotFound") {
			return nil, &fterr.NotFoundError{Kind: "job", ID: jobID}
		}
		return nil, classify(err)
	}
	if out.Output == nil {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(*out.Output)
	if err != nil {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}

	fetchedAt := time.Now()
	if out.Timestamp != nil {
		fetchedAt = *out.Timestamp
	}

	lines := strings.Split(strings.TrimRight(string(decoded), "\n"), "\n")
	var entries []models.LogEntry
	for i, line := range lines {
		cursor := uint64(i + 1)
		if cursor <= afterCursor {
			continue
		}
		entries = append(entries, models.LogEntry{
			JobID:     jobID,
			Cursor:    cursor,
			Timestamp: fetchedAt,
			Text:      line,
		})
	}
	return entries, nil
}
