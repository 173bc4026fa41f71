package mqtt

import (
	"github.com/sirupsen/logrus"

	"github.com/aluiziotomazelli/power-control/config"
	"github.com/aluiziotomazelli/power-control/logic"
	"github.com/aluiziotomazelli/power-control/util"
)

// MQTTUpdater updates MQTT topics with the current state of the application
type MQTTUpdater struct {
	config         *config.ConfigData
	onOutputUpdate chan logic.OutputUpdate
	stop           chan int
	api            *MQTTApi
	logger         *logrus.Entry
}

// NewMQTTUpdater creates a new MQTTUpdater which uses the specified state
func NewMQTTUpdater(config *config.ConfigData) *MQTTUpdater {
	onOutputUpdate := make(chan logic.OutputUpdate, 10)
	stop := make(chan int)
	for i := range config.Outputs {
		config.Outputs[i].SetOnUpdate(onOutputUpdate)
	}
	return &MQTTUpdater{
		config,
		onOutputUpdate, stop, nil,
		util.Logger.WithField("module", "MQTTUpdater"),
	}
}

// UpdateOutputs updates the topics for all outputs
func (u *MQTTUpdater) UpdateOutputs() {
	u.api.UpdateOutputs(u.config.Outputs)
}

func (u *MQTTUpdater) run() {
	u.logger.Debug("starting updater")
	for {
		select {
		case <-u.stop:
			return
		case outUpdate := <-u.onOutputUpdate:
			util.ExhaustChan(u.onOutputUpdate)

			index := -1
			for i, out := range u.config.Outputs {
				if out == outUpdate.Output {
					index = i
				}
			}
			if index == -1 {
				u.logger.Panicf("invalid output update recieved: %v", outUpdate.Output)
			}

			var err error
			switch outUpdate.Type {
			case logic.OutputUpdateData:
				err = u.api.UpdateOutputData(index, outUpdate.Output)
				if err == nil {
					err = config.WriteConfig(u.config)
				}
			case logic.OutputUpdateState:
				err = u.api.UpdateOutputState(index, outUpdate.Output)
			default:
			}
			if err != nil {
				u.logger.WithError(err).Error("error updating outputs")
			}
		}
	}
}

// Start starts the MQTTUpdater to listen and update topics
func (u *MQTTUpdater) Start(api *MQTTApi) {
	u.api = api
	go u.run()
}

// Stop stops the updater from updating topics
func (u *MQTTUpdater) Stop() {
	u.stop <- 0
}
