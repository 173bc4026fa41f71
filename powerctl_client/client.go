package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

var (
	clientID = flag.String("cid", "powerctl_client", "The MQTT client ID to connect with")
	command  = flag.String("cmd", "", "Request to send: turnOn, turnOff, toggle, initOutput, deinitOutput")
	outputID = flag.Int("output", 0, "The output ID to send the request to")
)

var (
	timeoutPeriod = 100 * time.Millisecond
	requestPeriod = 5 * time.Second
	timeoutError  = errors.New("the operation timed out")
)

type Output struct {
	Id            int
	Name          string
	Pin           int
	InvertedLogic bool
	InitialOn     bool
}

type PowerctlClient struct {
	mqttClient mqtt.Client
	prefix     string

	chanConnected  chan bool
	chanNumOutputs chan int
	chanOutputs    chan Output
	chanStates     chan [2]int

	connected  bool
	numOutputs int
	outputs    []Output
	states     map[int]bool
}

func NewPowerctlClient(mqttClient mqtt.Client, prefix string) *PowerctlClient {
	chanConnected := make(chan bool, 1)
	chanNumOutputs := make(chan int, 1)
	chanOutputs := make(chan Output, 1)
	chanStates := make(chan [2]int, 8)
	return &PowerctlClient{
		mqttClient, prefix,
		chanConnected, chanNumOutputs, chanOutputs, chanStates,
		false, -1, nil, make(map[int]bool),
	}
}

func (c *PowerctlClient) Connect() {
	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).Fatal("error connecting to mqtt broker")
		return
	}
	c.subscribe()
}

func (c *PowerctlClient) Disconnect() {
	c.mqttClient.Disconnect(250)
}

func (c *PowerctlClient) subscribe() {
	c.mqttClient.Subscribe(c.prefix+"/connected", 1, c.handleConnected)
	c.mqttClient.Subscribe(c.prefix+"/outputs", 1, c.handleNumOutputs)
	c.mqttClient.Subscribe(c.prefix+"/outputs/+", 1, c.handleOutputs)
	c.mqttClient.Subscribe(c.prefix+"/outputs/+/state", 1, c.handleStates)
}

func (c *PowerctlClient) handleConnected(mqttC mqtt.Client, message mqtt.Message) {
	connected, err := strconv.ParseBool(string(message.Payload()))
	if err != nil {
		c.chanConnected <- false
	} else {
		c.chanConnected <- connected
	}
}

func (c *PowerctlClient) handleNumOutputs(mqttC mqtt.Client, message mqtt.Message) {
	i, err := strconv.Atoi(string(message.Payload()))
	if err != nil {
		log.Errorf("invalid number received: %v", err)
	} else {
		c.chanNumOutputs <- i
	}
}

func (c *PowerctlClient) handleOutputs(mqttC mqtt.Client, message mqtt.Message) {
	var idx int
	topic := message.Topic()
	n, err := fmt.Sscanf(topic, c.prefix+"/outputs/%d", &idx)
	if n != 1 || err != nil {
		log.WithError(err).WithField("topic", topic).Error("invalid output topic string")
	}
	out := &Output{Id: idx}
	err = json.Unmarshal(message.Payload(), out)
	if err != nil {
		log.WithError(err).Error("error in received output")
	} else {
		c.chanOutputs <- *out
	}
}

func (c *PowerctlClient) handleStates(mqttC mqtt.Client, message mqtt.Message) {
	var idx int
	topic := message.Topic()
	n, err := fmt.Sscanf(topic, c.prefix+"/outputs/%d/state", &idx)
	if n != 1 || err != nil {
		log.WithError(err).WithField("topic", topic).Error("invalid state topic string")
		return
	}
	on, err := strconv.ParseBool(string(message.Payload()))
	if err != nil {
		log.WithError(err).Error("error in received state")
		return
	}
	state := 0
	if on {
		state = 1
	}
	c.chanStates <- [2]int{idx, state}
}

func (c *PowerctlClient) IsConnected() bool {
	select {
	case connected := <-c.chanConnected:
		return connected
	case <-time.After(timeoutPeriod):
		return false
	}
}

func (c *PowerctlClient) GetNumOutputs() (int, error) {
	if c.numOutputs != -1 {
		select {
		case numOutputs := <-c.chanNumOutputs:
			c.numOutputs = numOutputs
		default:
			break
		}
	} else {
		select {
		case numOutputs := <-c.chanNumOutputs:
			c.numOutputs = numOutputs
		case <-time.After(timeoutPeriod):
			return -1, timeoutError
		}
	}
	return c.numOutputs, nil
}

func (c *PowerctlClient) GetOutputs() ([]Output, error) {
	numOutputs, err := c.GetNumOutputs()
	if err != nil {
		return nil, err
	}
	var outputs []Output
	timeoutChan := time.After(timeoutPeriod)
	recvOutputs := 0
	for recvOutputs < numOutputs {
		select {
		case newOut := <-c.chanOutputs:
			log.WithFields(log.Fields{
				"newOut": newOut,
			}).Debug("received output")
			isNew := true
			for i, out := range outputs {
				if out.Id == newOut.Id {
					outputs[i] = newOut
					isNew = false
					break
				}
			}
			if isNew {
				outputs = append(outputs, newOut)
				recvOutputs++
			}
		case <-timeoutChan:
			return nil, timeoutError
		}
	}
	return outputs, nil
}

// GetStates drains any retained state topics received so far
func (c *PowerctlClient) GetStates() map[int]bool {
	for {
		select {
		case s := <-c.chanStates:
			c.states[s[0]] = s[1] == 1
		case <-time.After(timeoutPeriod):
			return c.states
		}
	}
}

// Request publishes an api request and waits for the matching response
func (c *PowerctlClient) Request(reqType string, outputID int) (map[string]interface{}, error) {
	rid := int(time.Now().UnixNano() & 0x7fffffff)
	chanResponse := make(chan map[string]interface{}, 1)

	resPath := c.prefix + "/responses"
	c.mqttClient.Subscribe(resPath, 1, func(mqttC mqtt.Client, message mqtt.Message) {
		var rData map[string]interface{}
		if err := json.Unmarshal(message.Payload(), &rData); err != nil {
			log.WithError(err).Error("error in received response")
			return
		}
		if recvRid, ok := rData["rid"].(float64); !ok || int(recvRid) != rid {
			return
		}
		chanResponse <- rData
	})
	defer c.mqttClient.Unsubscribe(resPath)

	reqBytes, err := json.Marshal(map[string]interface{}{
		"rid": rid, "type": reqType, "outputId": outputID,
	})
	if err != nil {
		return nil, err
	}
	c.mqttClient.Publish(c.prefix+"/requests", 2, false, reqBytes)

	select {
	case rData := <-chanResponse:
		return rData, nil
	case <-time.After(requestPeriod):
		return nil, timeoutError
	}
}

func init() {
	level := os.Getenv("LOG_LEVEL")
	if level != "" {
		lvl, err := log.ParseLevel(level)
		if err == nil {
			log.SetLevel(lvl)
		}
	}
}

func createMqttOptions(mqttUrl *url.URL) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	brokerUrl := fmt.Sprintf("%s://%s", mqttUrl.Scheme, mqttUrl.Host)
	_, err := url.Parse(brokerUrl)
	if err != nil {
		log.WithError(err).Fatalln("invalid MQTT broker URL")
	}
	log.Debugf("broker url: '%v'", brokerUrl)
	opts.AddBroker(brokerUrl)

	opts.SetClientID(*clientID)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.WithError(err).Info("disconnected from MQTT broker")
	})

	return opts
}

func main() {
	flag.Parse()
	var rawMqttUrl = flag.Arg(0)
	if rawMqttUrl == "" {
		rawMqttUrl = "tcp://localhost:1883"
	}

	mqttUrl, err := url.Parse(rawMqttUrl)
	if err != nil {
		log.WithError(err).Fatal("invalid MQTT URL")
	}

	prefix := mqttUrl.Path
	if prefix == "" {
		prefix = "powerctl"
	} else if prefix[0] == '/' {
		prefix = prefix[1:]
	}
	log.WithFields(log.Fields{"mqttUrl": mqttUrl, "prefix": prefix}).Debugf("connecting to MQTT broker")

	mqttOpts := createMqttOptions(mqttUrl)
	mqttClient := mqtt.NewClient(mqttOpts)
	client := NewPowerctlClient(mqttClient, prefix)

	client.Connect()
	defer client.Disconnect()

	connected := client.IsConnected()
	entry := log.WithField("prefix", prefix)
	if connected {
		entry.Info("powerctl server is connected to broker")
	} else {
		entry.Fatalf("no powerctl server connected at prefix. exiting")
	}

	if *command != "" {
		rData, err := client.Request(*command, *outputID)
		if err != nil {
			log.WithError(err).Fatalf("request failed")
		}
		log.WithField("response", rData).Info("request completed")
		return
	}

	log.Debug("requesting number of outputs")
	numOutputs, err := client.GetNumOutputs()
	if err != nil {
		log.WithError(err).Fatal("failed to retrieve number of outputs")
	}
	log.WithField("numOutputs", numOutputs).Info("received number of outputs")

	log.Debug("requesting outputs")
	outputs, err := client.GetOutputs()
	if err != nil {
		log.WithError(err).Fatal("failed to retrieve outputs")
	}
	states := client.GetStates()
	for _, output := range outputs {
		log.WithFields(log.Fields{
			"output": output, "on": states[output.Id],
		}).Info("output")
	}
}
