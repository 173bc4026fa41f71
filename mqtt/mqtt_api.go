package mqtt

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/aluiziotomazelli/power-control/config"
	"github.com/aluiziotomazelli/power-control/hal"
	"github.com/aluiziotomazelli/power-control/logic"
	"github.com/aluiziotomazelli/power-control/util"
)

const CONNECT_RETRY_TIMEOUT = 10 * time.Second
const MQTT_TIMEOUT = 10 * time.Second

type responseData map[string]interface{}
type requestHandler func(message mqtt.Message, rData responseData) (err error)

// MQTTApi encapsulates all functionality exposed over MQTT
type MQTTApi struct {
	// BrokerURL and ClientID override the MQTT_BROKER and MQTT_CID
	// environment variables when set before Start (used by device
	// provisioning)
	BrokerURL string
	ClientID  string

	config *config.ConfigData
	client mqtt.Client
	prefix string
	logger *logrus.Entry
}

// NewMQTTApi creates a new MQTTApi that uses the specified data
func NewMQTTApi(config *config.ConfigData) *MQTTApi {
	return &MQTTApi{
		"", "",
		config,
		nil, "",
		util.Logger.WithField("module", "MQTTApi"),
	}
}

func (a *MQTTApi) createMQTTOpts() (opts *mqtt.ClientOptions) {
	broker := a.BrokerURL
	if broker == "" {
		broker = os.Getenv("MQTT_BROKER")
	}
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	brokerURI, err := url.Parse(broker)
	if err != nil {
		err = fmt.Errorf("error parsing MQTT_BROKER: %v", err)
		return
	}
	if brokerURI.Scheme == "mqtt" { // translate scheme to compatible
		brokerURI.Scheme = "tcp"
	} else if brokerURI.Scheme == "mqtts" {
		brokerURI.Scheme = "ssl"
	} else if brokerURI.Scheme == "" {
		brokerURI.Scheme = "tcp"
	}
	if brokerURI.Path != "" {
		a.prefix = brokerURI.Path
	} else {
		a.prefix = "powerctl"
	}
	if a.prefix[0] == '/' {
		a.prefix = a.prefix[1:]
	}
	a.logger.Debugf("broker prefix: '%s'", a.prefix)

	cid := a.ClientID
	if cid == "" {
		cid = os.Getenv("MQTT_CID")
	}
	if cid == "" {
		cid = "powerctl-1"
	}

	opts = mqtt.NewClientOptions()
	opts.AddBroker(brokerURI.String())
	if brokerURI.User != nil {
		username := brokerURI.User.Username()
		opts.SetUsername(username)
		password, _ := brokerURI.User.Password()
		opts.SetPassword(password)
		a.logger.WithFields(logrus.Fields{
			"username": username,
		}).Debug("authenticating to mqtt server")
	}
	opts.SetClientID(cid)
	opts.SetCleanSession(false)
	return
}

// Start connects to the MQTT broker and listens to the API topics
func (a *MQTTApi) Start() (err error) {
	opts := a.createMQTTOpts()
	opts.SetWill(a.prefix+"/connected", "false", 1, true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		a.logger.Info("connected to mqtt broker")
		a.updateConnected(true)
		a.UpdateAll()
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		a.logger.WithError(err).Warn("lost connection to mqtt broker")
	})
	a.client = mqtt.NewClient(opts)

	go func() {
		for {
			if token := a.client.Connect(); token.WaitTimeout(MQTT_TIMEOUT) && token.Error() != nil {
				a.logger.WithError(token.Error()).
					Errorf("error connecting to mqtt broker. will retry in %v", CONNECT_RETRY_TIMEOUT)
				time.Sleep(CONNECT_RETRY_TIMEOUT)
			} else {
				break
			}
		}

		a.subscribe()
	}()

	return
}

// Stop disconnects from the broker
func (a *MQTTApi) Stop() {
	if a.client.IsConnected() {
		a.logger.Info("disconnecting from mqtt broker")
		a.updateConnected(false)
		a.client.Disconnect(250)
	} else {
		a.logger.Warn("was never connected to broker")
	}
}

// Client gets the MQTT client used by the MQTTApi
func (a *MQTTApi) Client() mqtt.Client {
	return a.client
}

// Prefix gets the topic prefix of this MQTTApi
func (a *MQTTApi) Prefix() string {
	return a.prefix
}

func (a *MQTTApi) updateConnected(connected bool) (err error) {
	str := strconv.FormatBool(connected)
	token := a.client.Publish(a.prefix+"/connected", 1, true, str)
	if token.WaitTimeout(MQTT_TIMEOUT); token.Error() != nil {
		return token.Error()
	}
	return
}

// UpdateAll updates all mqtt data
func (a *MQTTApi) UpdateAll() (err error) {
	err = a.UpdateOutputs(a.config.Outputs)
	return
}

// UpdateOutputData updates the topic for the data about the specified output
func (a *MQTTApi) UpdateOutputData(index int, out *logic.PowerControl) (err error) {
	bytes, err := json.Marshal(&a.config.OutputsJSON[index])
	if err != nil {
		err = fmt.Errorf("error marshalling output: %v", err)
		return
	}
	a.client.Publish(fmt.Sprintf("%s/outputs/%d", a.prefix, index), 1, true, bytes)
	return
}

// UpdateOutputState updates the topic for the current logical state of the output
func (a *MQTTApi) UpdateOutputState(index int, out *logic.PowerControl) (err error) {
	bytes := []byte(strconv.FormatBool(out.IsOn()))
	a.client.Publish(fmt.Sprintf("%s/outputs/%d/state", a.prefix, index), 1, true, bytes)
	return
}

// UpdateOutputs updates the topics for all the specified outputs
func (a *MQTTApi) UpdateOutputs(outputs []*logic.PowerControl) (err error) {
	lenOutputs := len(outputs)
	bytes := []byte(strconv.Itoa(lenOutputs))
	a.client.Publish(a.prefix+"/outputs", 1, true, bytes)
	for i, out := range outputs {
		err = a.UpdateOutputData(i, out)
		if err != nil {
			return
		}
		err = a.UpdateOutputState(i, out)
		if err != nil {
			return
		}
	}
	return
}

func (a *MQTTApi) subscribe() {
	reqPath := a.prefix + "/requests"
	resPath := a.prefix + "/responses"
	a.logger.WithField("path", reqPath).Debug("registering request handler")
	a.client.Subscribe(reqPath, 2, func(client mqtt.Client, message mqtt.Message) {
		rData := a.handleRequest(message)
		resBytes, err := json.Marshal(&rData)
		if err != nil {
			a.logger.WithError(err).Error("error marshaling response")
			return
		}
		client.Publish(resPath, 2, false, resBytes)
	})
}

// handleRequest processes a single api request and builds the response
// data for it. Panics in request handlers are recovered and reported as
// internal errors on the response, so a bad request cannot take down the
// process.
func (a *MQTTApi) handleRequest(message mqtt.Message) (rData responseData) {
	var (
		data struct {
			Rid  int    `json:"rid"`
			Type string `json:"type"`
		}
		err error
	)
	rData = make(responseData)

	defer func() {
		if pan := recover(); pan != nil {
			a.logger.WithField("panic", pan).Warn("panic in api responder")
			err = fmt.Errorf("internal server panic: %v", pan)
		}
		var (
			merr *util.Error
			ok   bool
		)
		if err != nil {
			if merr, ok = err.(*util.Error); !ok {
				merr = util.NewInternalError(err)
			}
		}
		if merr != nil {
			a.logger.WithError(merr).Info("error processing request")
			rData["result"] = "error"
			rData["code"] = merr.Code
			rData["message"] = merr.Error()
			if merr.Name != "" {
				rData["name"] = merr.Name
			}
			if merr.Cause != nil {
				rData["cause"] = merr.Cause.Error()
				if e, ok := merr.Cause.(*json.SyntaxError); ok {
					rData["offset"] = e.Offset
				}
			}
		} else {
			rData["result"] = "success"
		}
	}()

	err = json.Unmarshal(message.Payload(), &data)
	if err != nil {
		err = fmt.Errorf("could not parse api request: %v", err)
		return
	}

	rData["rid"] = data.Rid
	rData["type"] = data.Type

	var handler requestHandler
	switch data.Type {
	case "turnOn":
		handler = a.turnOn
	case "turnOff":
		handler = a.turnOff
	case "toggle":
		handler = a.toggle
	case "setDriveCapability":
		handler = a.setDriveCapability
	case "initOutput":
		handler = a.initOutput
	case "deinitOutput":
		handler = a.deinitOutput
	}

	if handler != nil {
		err = handler(message, rData)
	} else {
		err = util.NewError(util.EC_NotImplemented, fmt.Sprintf("invalid api request type: %s", data.Type))
	}
	return
}

type outputRequest struct {
	OutputID *int `json:"outputId"`
}

func (a *MQTTApi) getOutput(outputID *int) (out *logic.PowerControl, err error) {
	err = util.CheckRange(outputID, "output ID", len(a.config.Outputs))
	if err != nil {
		return
	}
	out = a.config.Outputs[*outputID]
	return
}

func (a *MQTTApi) parseOutputRequest(message mqtt.Message, reqType string) (out *logic.PowerControl, err error) {
	var data outputRequest
	err = json.Unmarshal(message.Payload(), &data)
	if err != nil {
		err = util.NewParseError(reqType+" request", err)
		return
	}
	out, err = a.getOutput(data.OutputID)
	return
}

func (a *MQTTApi) turnOn(message mqtt.Message, rData responseData) (err error) {
	out, err := a.parseOutputRequest(message, "turnOn")
	if err != nil {
		return
	}
	err = out.TurnOn()
	if err != nil {
		return
	}
	rData["message"] = fmt.Sprintf("turned on output '%s'", out.Name())
	return
}

func (a *MQTTApi) turnOff(message mqtt.Message, rData responseData) (err error) {
	out, err := a.parseOutputRequest(message, "turnOff")
	if err != nil {
		return
	}
	err = out.TurnOff()
	if err != nil {
		return
	}
	rData["message"] = fmt.Sprintf("turned off output '%s'", out.Name())
	return
}

func (a *MQTTApi) toggle(message mqtt.Message, rData responseData) (err error) {
	out, err := a.parseOutputRequest(message, "toggle")
	if err != nil {
		return
	}
	err = out.Toggle()
	if err != nil {
		return
	}
	rData["message"] = fmt.Sprintf("toggled output '%s'", out.Name())
	rData["on"] = out.IsOn()
	return
}

func (a *MQTTApi) setDriveCapability(message mqtt.Message, rData responseData) (err error) {
	var data struct {
		OutputID *int `json:"outputId"`
		Strength *int `json:"strength"`
	}
	err = json.Unmarshal(message.Payload(), &data)
	if err != nil {
		err = util.NewParseError("setDriveCapability request", err)
		return
	}
	out, err := a.getOutput(data.OutputID)
	if err != nil {
		return
	}
	err = util.CheckRange(data.Strength, "strength", int(hal.DriveCapMax))
	if err != nil {
		return
	}
	err = out.SetDriveCapability(hal.DriveCap(*data.Strength))
	if err != nil {
		return
	}
	rData["message"] = fmt.Sprintf("set drive capability of output '%s' to %d", out.Name(), *data.Strength)
	return
}

func (a *MQTTApi) initOutput(message mqtt.Message, rData responseData) (err error) {
	out, err := a.parseOutputRequest(message, "initOutput")
	if err != nil {
		return
	}
	err = out.Init()
	if err != nil {
		return
	}
	rData["message"] = fmt.Sprintf("initialized output '%s'", out.Name())
	return
}

func (a *MQTTApi) deinitOutput(message mqtt.Message, rData responseData) (err error) {
	out, err := a.parseOutputRequest(message, "deinitOutput")
	if err != nil {
		return
	}
	err = out.Deinit()
	if err != nil {
		return
	}
	rData["message"] = fmt.Sprintf("deinitialized output '%s'", out.Name())
	return
}
