package cloudformation

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsec2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsrds"
	"github.com/aws/aws-cdk-go/awscdklambdagoalpha/v2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/andrey-berenda/paysettle/internal/pkg/ptr"
)

const (
	dbName        = "paysettle"
	defaultRegion = "af-south-1"

	Description = "paysettle: PostgreSQL order and payment store, payment API Lambda behind " +
		"API Gateway for PayFast and Yoco checkouts and webhooks, 15-minute reconciliation sweep schedule"
)

// StackProps targets the account and region the CDK CLI resolved, falling back
// to Cape Town when no region is set.
func StackProps(lookup func(string) (string, bool)) *awscdk.StackProps {
	region, ok := lookup("CDK_DEFAULT_REGION")
	if !ok || region == "" {
		region = defaultRegion
	}
	env := &awscdk.Environment{Region: ptr.Of(region)}
	if account, ok := lookup("CDK_DEFAULT_ACCOUNT"); ok && account != "" {
		env.Account = ptr.Of(account)
	}
	return &awscdk.StackProps{
		Description: ptr.Of(Description),
		Env:         env,
	}
}

// NewStack deploys Postgres, the Lambda serving the HTTP API behind API
// Gateway and the schedule that runs the reconciliation sweep.
func NewStack(scope constructs.Construct, id string, props *awscdk.StackProps) awscdk.Stack {
	stack := awscdk.NewStack(scope, &id, props)

	dbUsername := awscdk.NewCfnParameter(stack, ptr.Of("DBUsername"), &awscdk.CfnParameterProps{
		NoEcho:      ptr.Of(true),
		Description: ptr.Of("PostgreSQL database username"),
		Type:        ptr.Of("String"),
	})

	dbPassword := awscdk.NewCfnParameter(stack, ptr.Of("DBPassword"), &awscdk.CfnParameterProps{
		NoEcho:      ptr.Of(true),
		Description: ptr.Of("PostgreSQL database password"),
		Type:        ptr.Of("String"),
	})

	secrets := map[string]awscdk.CfnParameter{}
	for _, name := range []string{
		"PAYFAST_MERCHANT_ID",
		"PAYFAST_MERCHANT_KEY",
		"PAYFAST_PASSPHRASE",
		"YOCO_SECRET_KEY",
		"YOCO_WEBHOOK_SECRET",
		"ADMIN_TOKEN",
		"TELEGRAM_TOKEN",
	} {
		secrets[name] = awscdk.NewCfnParameter(stack, ptr.Of(parameterID(name)), &awscdk.CfnParameterProps{
			NoEcho:  ptr.Of(true),
			Type:    ptr.Of("String"),
			Default: ptr.Of(""),
		})
	}

	defaultVpc := awsec2.Vpc_FromLookup(stack, ptr.Of("VPC"), &awsec2.VpcLookupOptions{
		IsDefault: ptr.Of(true),
		Region:    stack.Region(),
	})

	dbSg := awsec2.NewSecurityGroup(stack, ptr.Of("DBSecurityGroup"), &awsec2.SecurityGroupProps{
		Vpc:               defaultVpc,
		SecurityGroupName: ptr.Of("PaySettleDBSecurityGroup"),
	})
	dbSg.AddIngressRule(
		awsec2.Peer_AnyIpv4(),
		awsec2.NewPort(&awsec2.PortProps{
			StringRepresentation: ptr.Of("db"),
			Protocol:             awsec2.Protocol_TCP,
			FromPort:             jsii.Number(5432),
			ToPort:               jsii.Number(5432),
		}),
		nil,
		nil,
	)

	db := awsrds.NewCfnDBInstance(stack, ptr.Of("DBInstance"), &awsrds.CfnDBInstanceProps{
		AllocatedStorage:     ptr.Of("20"),
		PubliclyAccessible:   ptr.Of(true),
		MasterUsername:       dbUsername.ValueAsString(),
		MasterUserPassword:   dbPassword.ValueAsString(),
		VpcSecurityGroups:    &[]*string{dbSg.SecurityGroupId()},
		EngineVersion:        ptr.Of("14.6"),
		Engine:               ptr.Of("postgres"),
		DbInstanceClass:      ptr.Of("db.t3.micro"),
		DbInstanceIdentifier: ptr.Of("paysettle"),
		DbName:               ptr.Of(dbName),
	})

	databaseURL := awscdk.Fn_Join(ptr.Of(""), &[]*string{
		ptr.Of("postgres://"),
		dbUsername.ValueAsString(),
		ptr.Of(":"),
		dbPassword.ValueAsString(),
		ptr.Of("@"),
		db.AttrEndpointAddress(),
		ptr.Of(":"),
		db.AttrEndpointPort(),
		ptr.Of("/" + dbName),
	})

	environment := map[string]*string{
		"DATABASE_URL": databaseURL,
	}
	for name, parameter := range secrets {
		environment[name] = parameter.ValueAsString()
	}

	fn := awscdklambdagoalpha.NewGoFunction(stack, ptr.Of("PaySettleLambda"), &awscdklambdagoalpha.GoFunctionProps{
		FunctionName: ptr.Of("PaySettle"),
		Entry:        ptr.Of("cmd/lambda"),
		Timeout:      awscdk.Duration_Seconds(jsii.Number(30)),
		MemorySize:   jsii.Number(256),
		Environment:  &environment,
	})

	api := awsapigateway.NewLambdaRestApi(stack, ptr.Of("PaySettleApi"), &awsapigateway.LambdaRestApiProps{
		Handler:     fn,
		Proxy:       ptr.Of(true),
		RestApiName: ptr.Of("paysettle"),
		BinaryMediaTypes: &[]*string{
			ptr.Of("application/x-www-form-urlencoded"),
		},
	})

	awsevents.NewRule(stack, ptr.Of("ReconcileSchedule"), &awsevents.RuleProps{
		Description: ptr.Of("Reconcile unpaid orders against stored payments"),
		Schedule:    awsevents.Schedule_Rate(awscdk.Duration_Minutes(jsii.Number(15))),
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewLambdaFunction(fn, nil),
		},
	})

	awscdk.NewCfnOutput(stack, ptr.Of("ApiUrl"), &awscdk.CfnOutputProps{
		Value: api.Url(),
	})

	return stack
}

// parameterID turns PAYFAST_MERCHANT_KEY into PayfastMerchantKey.
func parameterID(env string) string {
	id := make([]byte, 0, len(env))
	upper := true
	for i := 0; i < len(env); i++ {
		c := env[i]
		switch {
		case c == '_':
			upper = true
			continue
		case upper:
			upper = false
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		}
		id = append(id, c)
	}
	return string(id)
}
