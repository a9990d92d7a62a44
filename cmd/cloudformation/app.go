package main

import (
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"

	"github.com/andrey-berenda/paysettle/internal/pkg/cloudformation"
)

const stackName = "PaySettle"

func main() {
	defer jsii.Close()

	app := awscdk.NewApp(nil)
	cloudformation.NewStack(app, stackName, cloudformation.StackProps(os.LookupEnv))
	app.Synth(nil)
}
