package main

import (
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	c "github.com/aluiziotomazelli/power-control/config"
	"github.com/aluiziotomazelli/power-control/hal"
	"github.com/aluiziotomazelli/power-control/http"
	"github.com/aluiziotomazelli/power-control/mqtt"
	"github.com/aluiziotomazelli/power-control/util"
)

func main() {
	var logger = util.Logger.WithField("module", "powerctl")
	// channel which is notified on an interrupt signal
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)

	godotenv.Load()
	util.InitLogLevel()

	config, err := c.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatalf("error loading config")
	}

	logger.Info("writing back config")
	c.WriteConfig(&config)

	if rpioHAL, ok := config.GpioHAL.(*hal.RpioHAL); ok {
		if err = rpioHAL.Open(); err != nil {
			logger.WithError(err).Fatalf("error opening gpio")
		}
		defer rpioHAL.Close()
	}

	updater := mqtt.NewMQTTUpdater(&config)

	logger.Debug("initializing outputs")
	for _, out := range config.Outputs {
		if err = out.Init(); err != nil {
			logger.WithError(err).WithField("output", out.Name()).
				Fatalf("error initializing output")
		}
	}
	logger.WithFields(log.Fields{
		"lenOutputs": len(config.Outputs),
	}).Info("initialized outputs")

	api := mqtt.NewMQTTApi(&config)

	if apiURL := os.Getenv("API_URL"); apiURL != "" {
		apiClient := http.NewAPIClient(&http.Config{
			ApiURL:                  apiURL,
			DeviceRegistrationToken: os.Getenv("DEVICE_REG_TOKEN"),
		})
		connectData, cerr := apiClient.RegisterAndConnect()
		if cerr != nil {
			logger.WithError(cerr).Fatalf("error provisioning device")
		}
		api.BrokerURL = connectData.MqttURL
		api.ClientID = connectData.ClientID
	}

	api.Start()
	updater.Start(api)

	<-sigc

	logger.Info("cleaning up...")
	updater.Stop()
	api.Stop()
	for _, out := range config.Outputs {
		if err = out.Deinit(); err != nil {
			logger.WithError(err).WithField("output", out.Name()).
				Warn("error deinitializing output")
		}
	}
}
